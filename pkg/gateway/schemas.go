package gateway

// ResponseBase is the envelope every non-streaming endpoint replies with,
// carrying a server-assigned sequence number (one counter shared by all
// requests) and an "OK" or "ERROR: ..." response string. Modeled on the teacher's CiA-309 HTTP gateway JSON
// envelope (sequence/response fields), repointed from the CANopen ASCII
// command grammar to this device's raw object vocabulary.
type ResponseBase struct {
	Sequence int    `json:"sequence"`
	Response string `json:"response"`
}

func newOK(sequence int) ResponseBase {
	return ResponseBase{Sequence: sequence, Response: "OK"}
}

func newError(sequence int, err error) ResponseBase {
	return ResponseBase{Sequence: sequence, Response: "ERROR: " + err.Error()}
}

// ObjectReadResponse answers a GET /object/{index}/{sub} request.
type ObjectReadResponse struct {
	ResponseBase
	Data string `json:"data"` // hex-encoded raw bytes
}

// ObjectWriteRequest is the PUT /object/{index}/{sub} request body.
type ObjectWriteRequest struct {
	Data string `json:"data"` // hex-encoded raw bytes, 1/2/4/8 bytes
}

// JointSnapshot is one joint's entry in a streamed PDO snapshot.
type JointSnapshot struct {
	Finger      int     `json:"finger"`
	Joint       int     `json:"joint"`
	PositionRad float64 `json:"position_rad"`
	EffortAmps  float64 `json:"effort_amps"`
	ErrorCode   uint32  `json:"error_code"`
}

// Snapshot is one message pushed over the /stream WebSocket.
type Snapshot struct {
	SequenceNb int             `json:"sequence"`
	Joints     []JointSnapshot `json:"joints"`
}
