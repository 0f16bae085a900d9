package server

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/kartikbazzad/docstore"
	"github.com/kartikbazzad/docstore/config"
	"github.com/kartikbazzad/docstore/wire"
)

// testClient wraps one end of a net.Pipe connected to a HandleConn
// goroutine on the other end, driving the handshake once at construction.
type testClient struct {
	t    *testing.T
	conn net.Conn
}

func newTestClient(t *testing.T, d *Dispatcher) *testClient {
	t.Helper()
	client, server := net.Pipe()
	go HandleConn(server, d)

	if err := wire.WriteMessage(client, wire.OpHandshake, wire.HandshakeRequest{ClientVersion: "1.0"}); err != nil {
		t.Fatal(err)
	}
	header, err := wire.ReadHeader(client)
	if err != nil {
		t.Fatal(err)
	}
	if header.OpCode != wire.OpHandshake {
		t.Fatalf("expected handshake response, got opcode %v", header.OpCode)
	}
	var hsResp wire.HandshakeResponse
	if err := wire.ReadBody(client, header.Length, &hsResp); err != nil {
		t.Fatal(err)
	}

	tc := &testClient{t: t, conn: client}
	t.Cleanup(func() { client.Close() })
	return tc
}

func (c *testClient) command(op, token string, args interface{}) wire.Response {
	c.t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		c.t.Fatal(err)
	}
	cmd := wire.Command{Op: op, Token: token, Args: raw}
	if err := wire.WriteMessage(c.conn, wire.OpCommand, cmd); err != nil {
		c.t.Fatal(err)
	}
	header, err := wire.ReadHeader(c.conn)
	if err != nil {
		c.t.Fatal(err)
	}
	var resp wire.Response
	if err := wire.ReadBody(c.conn, header.Length, &resp); err != nil {
		c.t.Fatal(err)
	}
	return resp
}

func newTestDispatcher(t *testing.T, requireAuth bool) *Dispatcher {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.RequireAuthentication = requireAuth
	db, err := docstore.Open(*cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return &Dispatcher{DB: db, RequireAuthentication: requireAuth}
}

func TestPingPongOverPipe(t *testing.T) {
	d := newTestDispatcher(t, false)
	client, server := net.Pipe()
	go HandleConn(server, d)
	t.Cleanup(func() { client.Close() })

	if err := wire.WriteMessage(client, wire.OpHandshake, wire.HandshakeRequest{ClientVersion: "1.0"}); err != nil {
		t.Fatal(err)
	}
	hsHeader, err := wire.ReadHeader(client)
	if err != nil {
		t.Fatal(err)
	}
	var hsResp wire.HandshakeResponse
	// The handshake body has to be read before the next write on the pipe.
	if err := wire.ReadBody(client, hsHeader.Length, &hsResp); err != nil {
		t.Fatal(err)
	}

	if err := wire.WriteMessage(client, wire.OpPing, wire.PingRequest{}); err != nil {
		t.Fatal(err)
	}
	header, err := wire.ReadHeader(client)
	if err != nil {
		t.Fatal(err)
	}
	if header.OpCode != wire.OpPong {
		t.Fatalf("expected pong, got opcode %v", header.OpCode)
	}
}

func TestInsertGetOverWireWithoutAuth(t *testing.T) {
	d := newTestDispatcher(t, false)
	client := newTestClient(t, d)

	resp := client.command(OpCreateCollection, "", map[string]string{"collection": "widgets"})
	if !resp.Success {
		t.Fatalf("create_collection failed: %s", resp.ErrorMessage)
	}

	insertArgs := wire.InsertArgs{
		Collection: "widgets",
		Document: map[string]interface{}{
			"id":   "w1",
			"data": map[string]interface{}{"name": "sprocket"},
		},
	}
	resp = client.command(OpInsert, "", insertArgs)
	if !resp.Success {
		t.Fatalf("insert failed: %s", resp.ErrorMessage)
	}

	getResp := client.command(OpGet, "", wire.GetArgs{Collection: "widgets", Id: "w1"})
	if !getResp.Success {
		t.Fatalf("get failed: %s", getResp.ErrorMessage)
	}
	var docResult wire.DocumentResult
	if err := json.Unmarshal(getResp.Result, &docResult); err != nil {
		t.Fatal(err)
	}
	if !docResult.Found {
		t.Fatal("expected document to be found")
	}
	data, _ := docResult.Document["data"].(map[string]interface{})
	if data["name"] != "sprocket" {
		t.Fatalf("unexpected document data: %+v", docResult.Document)
	}
}

func TestAuthRequiredRejectsMissingToken(t *testing.T) {
	d := newTestDispatcher(t, true)
	client := newTestClient(t, d)

	resp := client.command(OpCreateCollection, "", map[string]string{"collection": "secure"})
	if resp.Success {
		t.Fatal("expected create_collection to fail without a token")
	}
	if resp.ErrorKind != "InvalidToken" {
		t.Fatalf("expected InvalidToken, got %q", resp.ErrorKind)
	}
}

func TestAuthenticateThenAuthorizedCreateCollection(t *testing.T) {
	d := newTestDispatcher(t, true)
	client := newTestClient(t, d)

	regResp := client.command(OpRegisterUser, "", wire.RegisterUserArgs{Username: "bob", Password: "pw123", InitialRole: "Admin"})
	if !regResp.Success {
		t.Fatalf("register_user failed: %s", regResp.ErrorMessage)
	}

	authResp := client.command(OpAuthenticate, "", wire.AuthenticateArgs{Username: "bob", Password: "pw123"})
	if !authResp.Success {
		t.Fatalf("authenticate failed: %s", authResp.ErrorMessage)
	}
	var authResult wire.AuthenticateResult
	if err := json.Unmarshal(authResp.Result, &authResult); err != nil {
		t.Fatal(err)
	}
	if authResult.TokenId == "" {
		t.Fatal("expected a token id")
	}

	createResp := client.command(OpCreateCollection, authResult.TokenId, map[string]string{"collection": "secure"})
	if !createResp.Success {
		t.Fatalf("authorized create_collection failed: %s", createResp.ErrorMessage)
	}
}

func TestQueryOverWireWithFilter(t *testing.T) {
	d := newTestDispatcher(t, false)
	client := newTestClient(t, d)

	client.command(OpCreateCollection, "", map[string]string{"collection": "orders"})
	for i, val := range []float64{10, 20, 30} {
		client.command(OpInsert, "", wire.InsertArgs{
			Collection: "orders",
			Document: map[string]interface{}{
				"id":   string(rune('a' + i)),
				"data": map[string]interface{}{"value": val},
			},
		})
	}

	cursorArgs := wire.CreateCursorArgs{
		Collection: "orders",
		Filter:     &wire.FilterSpec{Op: "Gte", Path: "value", Value: 20.0},
		BatchSize:  10,
	}
	resp := client.command(OpCreateCursor, "", cursorArgs)
	if !resp.Success {
		t.Fatalf("create_cursor failed: %s", resp.ErrorMessage)
	}
	var batch wire.CursorBatchResult
	if err := json.Unmarshal(resp.Result, &batch); err != nil {
		t.Fatal(err)
	}
	if len(batch.Documents) != 2 {
		t.Fatalf("expected 2 matching documents, got %d", len(batch.Documents))
	}
}
