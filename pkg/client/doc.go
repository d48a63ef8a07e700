/*
Package client is the Go client for a bellhop node's HTTP API, used by the
bellhop CLI.

	c := client.NewClient("127.0.0.1:8080")
	board := types.BoardKey{TenantID: "casa-luna", Kind: types.KindOrder}
	alert, err := c.Alert(ctx, board)

Non-2xx responses come back as *client.Error, which matches the engine
sentinels under errors.Is: a 409 is types.ErrInvalidTransition, a 422 is
types.ErrMissingReason and a 404 is types.ErrNotFound.

CheckBoard queries the gRPC health service instead of the HTTP API.
*/
package client
