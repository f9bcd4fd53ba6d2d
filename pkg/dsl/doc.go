/*
Package dsl provides a fluent builder for constructing Tendril flows in Go.

It is an alternative to authoring flows as YAML or JSON files and is mostly
used by tests, examples and programmatic flow generation.

Example usage:

	b := dsl.New("welcome")

	b.Start("start").Go("ask")
	b.Add("ask").Question("What is your name?").SaveTo("name").Go("greet")
	b.Add("greet").Text("Nice to meet you, {{name}}!")

	flow, err := b.Build()
	if err != nil {
		// flow failed graph validation
	}
	repo := memory.NewRepository(flow)
*/
package dsl
