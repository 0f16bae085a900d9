package wire

import "encoding/json"

// HandshakeRequest opens a connection, naming the protocol version the
// client speaks.
type HandshakeRequest struct {
	ClientVersion string `json:"clientVersion"`
}

// HandshakeResponse acknowledges a handshake.
type HandshakeResponse struct {
	ServerVersion string `json:"serverVersion"`
	RequireAuth   bool   `json:"requireAuth"`
}

// PingRequest/PongResponse implement a liveness check independent of any
// command.
type PingRequest struct{}
type PongResponse struct {
	ServerTimeUnixMs int64 `json:"serverTimeUnixMs"`
}

// Command carries one operation name and its JSON-encoded arguments. The
// operation name matches the C3/C6/C7/C8/C9 operation vocabulary in
// spec.md §4 verbatim (e.g. "insert", "create_cursor", "authenticate").
type Command struct {
	Op       string          `json:"op"`
	Token    string          `json:"token,omitempty"`
	Args     json.RawMessage `json:"args"`
}

// Response is the generic envelope for a command's result. Exactly one
// of Result/ErrorMessage is populated.
type Response struct {
	Success      bool            `json:"success"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	ErrorKind    string          `json:"errorKind,omitempty"`
}

// -- C3 document store request/response bodies --

type InsertArgs struct {
	Collection string                 `json:"collection"`
	Document   map[string]interface{} `json:"document"`
}

type UpdateArgs struct {
	Collection string                 `json:"collection"`
	Document   map[string]interface{} `json:"document"`
}

type DeleteArgs struct {
	Collection string `json:"collection"`
	Id         string `json:"id"`
}

type GetArgs struct {
	Collection string `json:"collection"`
	Id         string `json:"id"`
}

type ExistsArgs struct {
	Collection string `json:"collection"`
	Id         string `json:"id"`
}

type DocumentResult struct {
	Found    bool                   `json:"found"`
	Document map[string]interface{} `json:"document,omitempty"`
}

// -- C6/C7 filter + cursor wire shapes --

// FilterSpec is the wire-level mirror of filter.Node: a tagged tree so it
// survives JSON. Op matches filter.Op's string values.
type FilterSpec struct {
	Op       string                 `json:"op"`
	Path     string                 `json:"path,omitempty"`
	Value    interface{}            `json:"value,omitempty"`
	Values   []interface{}          `json:"values,omitempty"`
	Exists   bool                   `json:"exists,omitempty"`
	Pattern  string                 `json:"pattern,omitempty"`
	Children []*FilterSpec          `json:"children,omitempty"`
}

type SortSpec struct {
	Path string `json:"path"`
	Desc bool   `json:"desc"`
}

type CreateCursorArgs struct {
	Collection        string      `json:"collection"`
	Filter            *FilterSpec `json:"filter,omitempty"`
	Sort              []SortSpec  `json:"sort,omitempty"`
	BatchSize         int         `json:"batchSize,omitempty"`
	TimeoutMinutes    int         `json:"timeoutMinutes,omitempty"`
	IncludeTotalCount bool        `json:"includeTotalCount,omitempty"`
	ResumeToken       string      `json:"resumeToken,omitempty"`
}

type GetMoreArgs struct {
	CursorId  string `json:"cursorId"`
	BatchSize int    `json:"batchSize,omitempty"`
}

type KillCursorArgs struct {
	CursorId string `json:"cursorId"`
}

type CursorBatchResult struct {
	Success      bool                     `json:"success"`
	CursorId     string                   `json:"cursorId,omitempty"`
	Documents    []map[string]interface{} `json:"documents,omitempty"`
	HasMore      bool                     `json:"hasMore"`
	TotalCount   *int                     `json:"totalCount,omitempty"`
	ResumeToken  string                   `json:"resumeToken,omitempty"`
	ErrorMessage string                   `json:"errorMessage,omitempty"`
}

// -- C8 aggregation wire shape --

type StageSpec struct {
	Kind         string                 `json:"kind"`
	Filter       *FilterSpec            `json:"filter,omitempty"`
	Projection   map[string]bool        `json:"projection,omitempty"`
	Sort         []SortSpec             `json:"sort,omitempty"`
	N            int                    `json:"n,omitempty"`
	GroupBy      string                 `json:"groupBy,omitempty"`
	Accumulators []AccumulatorSpec      `json:"accumulators,omitempty"`
}

type AccumulatorSpec struct {
	OutputField string `json:"outputField"`
	Op          string `json:"op"`
	Field       string `json:"field,omitempty"`
}

type RunPipelineArgs struct {
	Collection string      `json:"collection"`
	Stages     []StageSpec `json:"stages"`
}

type PipelineResultWire struct {
	Success        bool                     `json:"success"`
	Documents      []map[string]interface{} `json:"documents,omitempty"`
	Count          int                      `json:"count"`
	StagesExecuted int                      `json:"stagesExecuted"`
	ErrorMessage   string                   `json:"errorMessage,omitempty"`
}

// -- C9 authentication wire shapes --

type RegisterUserArgs struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	InitialRole string `json:"initialRole,omitempty"`
}

type AuthenticateArgs struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthenticateResult struct {
	TokenId   string `json:"tokenId,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

type AuthorizeArgs struct {
	TokenId    string `json:"tokenId"`
	Permission string `json:"permission"`
}

type AuthorizeResultWire struct {
	IsAuthorized  bool   `json:"isAuthorized"`
	FailureReason string `json:"failureReason,omitempty"`
}
