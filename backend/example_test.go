package backend_test

import (
	"context"
	"fmt"

	"github.com/jonwraymond/toolrelay/backend"
	"github.com/jonwraymond/toolrelay/backend/local"
)

func ExampleRegistry() {
	reg := backend.NewRegistry()
	reg.RegisterFactory(local.Kind, local.Factory)

	tr, err := reg.Build(backend.Descriptor{Name: "builtin", Transport: local.Kind})
	if err != nil {
		fmt.Println(err)
		return
	}

	lt := tr.(*local.Transport)
	lt.RegisterHandler("greet", local.ToolDef{
		Description: "Greets a user",
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			name, _ := args["name"].(string)
			return fmt.Sprintf("Hello, %s!", name), nil
		},
	})

	ctx := context.Background()
	_ = tr.Connect(ctx)
	defer tr.Close()

	out, _ := tr.Call(ctx, "greet", map[string]any{"name": "Ada"})
	fmt.Println(out)
	// Output:
	// Hello, Ada!
}
