package frame

// Command is the closed set of wire command tags from spec §6.
type Command uint16

const (
	CmdConnect Command = iota + 1
	CmdDisconnect
	CmdHeartbeatReq
	CmdHeartbeatRsp
	CmdAuthReq
	CmdAuthRsp
	CmdSendMsg
	CmdSendMsgRsp
	CmdPushMsg
	CmdMsgAck
	CmdBatchMsg
	CmdRevokeReq
	CmdRevokeRsp
	CmdRevokePush
	CmdSyncReq
	CmdSyncRsp
	CmdReadReceiptReq
	CmdReadReceiptRsp
	CmdReadReceiptPush
	CmdTypingStatusReq
	CmdTypingStatusPush
	CmdKickOut
)

var commandNames = map[Command]string{
	CmdConnect:          "connect",
	CmdDisconnect:       "disconnect",
	CmdHeartbeatReq:     "heartbeat_req",
	CmdHeartbeatRsp:     "heartbeat_rsp",
	CmdAuthReq:          "auth_req",
	CmdAuthRsp:          "auth_rsp",
	CmdSendMsg:          "send_msg",
	CmdSendMsgRsp:       "send_msg_rsp",
	CmdPushMsg:          "push_msg",
	CmdMsgAck:           "msg_ack",
	CmdBatchMsg:         "batch_msg",
	CmdRevokeReq:        "revoke_req",
	CmdRevokeRsp:        "revoke_rsp",
	CmdRevokePush:       "revoke_push",
	CmdSyncReq:          "sync_req",
	CmdSyncRsp:          "sync_rsp",
	CmdReadReceiptReq:   "read_receipt_req",
	CmdReadReceiptRsp:   "read_receipt_rsp",
	CmdReadReceiptPush:  "read_receipt_push",
	CmdTypingStatusReq:  "typing_status_req",
	CmdTypingStatusPush: "typing_status_push",
	CmdKickOut:          "kick_out",
}

// String renders the human-readable command name, or "unknown" for
// anything outside the closed set (unknown commands are ignored by
// the dispatcher, not rejected by the codec — forward compatibility).
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "unknown"
}
