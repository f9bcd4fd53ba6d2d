/*
Package tendril is a conversational flow execution engine for chat channels.

An author describes a conversation as a directed graph of typed nodes (send
text, branch, collect input, wait, ask a generative model, show a carousel).
Tendril walks that graph for one subscriber at a time, sends each node's
message through a MessagingGateway, suspends when it needs the user's reply
and resumes later from a separate invocation. All continuation state is
persisted, so a reply may arrive at a different process hours later.

# Concept

Flows are read-only FlowDefinitions. Each run is an ExecutionInstance whose
status moves from running to completed, failed or waiting_for_input. Every
node attempt is appended to an execution log, and values captured by input
nodes are stored as collected variables that later nodes interpolate with
{{ name }} placeholders.

# Usage

	flow := dsl.New("welcome")
	flow.Start("start").Go("ask")
	flow.Add("ask").Question("What is your name?").SaveTo("name").Go("greet")
	flow.Add("greet").Text("Nice to meet you, {{name}}!")

	eng, err := tendril.New(
		tendril.WithFlows(memory.NewRepository(flow.MustBuild())),
		tendril.WithGateway(console.NewGateway(os.Stdout)),
	)
	if err != nil {
		log.Fatal(err)
	}

	exec, err := eng.StartFlow(ctx, tendril.StartRequest{FlowID: "welcome", SubscriberID: "user-1"})
	// exec.Status == domain.StatusWaitingForInput

	exec, err = eng.ResumeFlow(ctx, exec.ID, "Sam")
	// prints "Nice to meet you, Sam!"; exec.Status == domain.StatusCompleted

For long running services, use a persistent store (pkg/adapters/redis or
pkg/adapters/postgres), a channel gateway (pkg/adapters/messenger or
pkg/adapters/telegram) and the message router in pkg/router.
*/
package tendril
