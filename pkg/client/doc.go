/*
Package client provides a Go client library for the Scuttle HTTP API.

It wraps every /api/v1 route in a typed method, reusing the request structs
from pkg/api and the entity structs from pkg/types so the wire shapes cannot
drift from the server. Error payloads are rebuilt into errdefs-wrapped errors,
which means remote callers branch exactly like in-process ones:

	task, err := cli.SubmitTask(hostID, url, types.TaskOptions{})
	if errdefs.IsDuplicate(err) {
		// fingerprint already owned by a live task
	}

# Usage

	cli, err := client.NewClientWithToken("manager:8080", token)
	if err != nil {
		log.Fatal().Err(err).Msg("bad manager address")
	}
	defer cli.Close()

	host, err := cli.CreateHost(&types.Host{
		Name:      "shop.example.com",
		BaseURL:   "https://shop.example.com",
		ParserTag: "product_v2",
		Active:    true,
	})

Unary calls carry a 10 second deadline. WatchEvents streams the manager's
event feed over SSE on the caller's context:

	events, err := cli.WatchEvents(ctx)
	for event := range events {
		fmt.Println(event.Type, event.Message)
	}

# Thread Safety

The client holds no mutable state and is safe for concurrent use; the
underlying http.Client pools connections across goroutines.

# Integration Points

  - pkg/api: consumes the HTTP surface, shares its request types
  - pkg/types: entity structs on every response
  - pkg/errdefs: error classes rebuilt from {error, kind} payloads
  - cmd/scuttle: the CLI drives every command through this package
*/
package client
