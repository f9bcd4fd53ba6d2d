/*
Package ports defines the driven ports (interfaces) of the Tendril engine.

These interfaces decouple the interpreter from persistence, channel delivery
and model providers, so the same engine runs against memory, Redis or
Postgres and sends through Messenger, Telegram or a terminal.

# Key Interfaces

  - FlowRepository: Resolves a FlowDefinition by ID.
  - ExecutionStore, ExecutionLog, VariableStore: The persistence contract that lets
    a conversation span independent invocations.
  - MessagingGateway: Delivers one OutboundMessage to a recipient.
  - AIProvider: Produces a completion for ai nodes.
  - DistributedLocker: Coordinates inbound events across replicas.
*/
package ports
