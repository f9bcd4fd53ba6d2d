/*
Package domain contains the core models of the Tendril flow engine.

It defines the authored flow graph and the runtime records the engine
produces while walking it. The package is kept free of I/O and
persistence concerns so adapters can depend on it without cycles.

# Key Entities

  - FlowDefinition: The authored graph of typed Nodes and handle-tagged Edges.
  - ExecutionInstance: One run of a flow for one subscriber, with its Continuation.
  - NodeExecutionRecord: Append-only log of every node attempt.
  - CollectedVariable: A value captured from the user by an input node.
  - OutboundMessage: The channel-neutral payload handed to a MessagingGateway.
*/
package domain
