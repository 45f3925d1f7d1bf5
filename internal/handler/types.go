package handler

// Error codes are fixed by the external protocol; callers match on these
// values rather than parsing errorDesc strings.
const (
	CodeSuccess            = 0
	CodeGeneric            = 101
	CodeBadType            = 102
	CodeParse              = 103
	CodeQueryAdapterError  = 201
	CodeQueryFatal         = 202
	CodeInsertFailed       = 301
	CodeInsertAdapterError = 302
	CodeInsertFatal        = 303
	CodeRemoveAdapterError = 401
	CodeRemoveFailed       = 402
	CodeRegisterFailed     = 502
	CodeBadRequest         = 400
)

// RequestType enumerates the four operations the handler dispatches.
type RequestType string

const (
	TypeQuery    RequestType = "query"
	TypeInsert   RequestType = "insert"
	TypeRemove   RequestType = "remove"
	TypeRegister RequestType = "register"
)

// RemoveType selects single-id or whole-model removal.
type RemoveType string

const (
	RemoveSingle RemoveType = "single"
	RemoveAll    RemoveType = "all"
)

// ChatTurn is one (query, answer) pair supplied on insert.
type ChatTurn struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

// Scope carries the model name as given by the caller, before
// normalization.
type Scope struct {
	Model string `json:"model"`
}

// Request is the single wire shape for all four operation types; unused
// fields for a given type are simply omitted/ignored.
type Request struct {
	Type       RequestType `json:"type"`
	Scope      Scope       `json:"scope"`
	Query      string      `json:"query,omitempty"`
	ChatInfo   []ChatTurn  `json:"chat_info,omitempty"`
	RemoveType RemoveType  `json:"remove_type,omitempty"`
	IDList     []int64     `json:"id_list,omitempty"`
}

// QueryResponse is returned for type "query".
type QueryResponse struct {
	ErrorCode  int    `json:"errorCode"`
	ErrorDesc  string `json:"errorDesc"`
	CacheHit   bool   `json:"cacheHit"`
	DeltaTime  string `json:"delta_time"`
	HitQuery   string `json:"hit_query"`
	Answer     string `json:"answer"`
}

// InsertResponse is returned for type "insert".
type InsertResponse struct {
	ErrorCode   int    `json:"errorCode"`
	ErrorDesc   string `json:"errorDesc"`
	WriteStatus string `json:"writeStatus"`
}

// RemoveStatus is the nested "response" object inside RemoveResponse.
type RemoveStatus struct {
	Status  string `json:"status"`
	VectorDB string `json:"VectorDB"`
	ScalarDB string `json:"ScalarDB"`
}

// RemoveResponse is returned for type "remove".
type RemoveResponse struct {
	ErrorCode    int          `json:"errorCode"`
	ErrorDesc    string       `json:"errorDesc"`
	Response     RemoveStatus `json:"response"`
	RemoveStatus string       `json:"removeStatus"`
}

// RegisterResponse is returned for type "register".
type RegisterResponse struct {
	ErrorCode   int    `json:"errorCode"`
	ErrorDesc   string `json:"errorDesc"`
	Response    string `json:"response"` // "create_success" or "already_exists"
	WriteStatus string `json:"writeStatus"`
}
