package packet

// ReservedPrefix separates protocol fields from provider message
// properties: any key starting with it is never forwarded to or from
// the queue provider.
const ReservedPrefix = "XMQB"

// Protocol fields.
const (
	FieldStatus      = "XMQBStatus"
	FieldRequest     = "XMQBRequest"
	FieldRequestID   = "XMQBRequestID"
	FieldResponse    = "XMQBResponse"
	FieldMessageText = "XMQBMessageText"
	FieldMessageID   = "XMQBMessageID"
	FieldError       = "XMQBError"
)

// StatusReady is emitted once by every worker after its session is
// open; the controller waits for it before sending the first command.
const StatusReady = "READY"

// Request verbs. The sender consumes SEND, COMMIT, ROLLBACK, NOOP and
// EXIT; the receiver emits RECEIVE and NOOP.
const (
	RequestSend     = "SEND"
	RequestCommit   = "COMMIT"
	RequestRollback = "ROLLBACK"
	RequestNoop     = "NOOP"
	RequestReceive  = "RECEIVE"
	RequestExit     = "EXIT"
)

// Response values. The sender answers OK to every handled command; the
// receiver accepts OK, COMMIT, ROLLBACK and EXIT as acknowledgements.
const (
	ResponseOK       = "OK"
	ResponseCommit   = "COMMIT"
	ResponseRollback = "ROLLBACK"
	ResponseExit     = "EXIT"
)
