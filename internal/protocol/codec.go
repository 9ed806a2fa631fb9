// Package protocol implements the plain-text wire format spoken by
// push-style attendance terminals: tab-separated punch records uploaded
// over cdata, command lines fetched over getrequest, and the devicecmd
// reply format used to acknowledge executed commands.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timestamps on the wire carry second precision in the device's local zone.
const timeLayout = "2006-01-02 15:04:05"

// Fixed response tokens. Terminals treat anything that is not a recognized
// token as an error and retry, so an empty body is never sent.
const (
	TokenOK      = "OK"
	TokenError   = "ERROR"
	TokenUnauth  = "ERROR: UNAUTH"
	enrollVerb   = "DATA UPDATE USERINFO"
	deleteVerb   = "DATA DELETE USERINFO"
	commandLead  = "C:"
	punchFieldsN = 2 // PIN and timestamp are mandatory
)

// Punch is one raw attendance event as uploaded by a terminal.
type Punch struct {
	DeviceUserID string // PIN: the device-local user id
	Timestamp    time.Time
	State        int // punch direction as reported (0 check-in, 1 check-out, device-specific)
	VerifyMode   int // 1 fingerprint, 4 card, 15 face, device-specific
}

// MalformedLine records an input line that could not be decoded. The
// remainder of the block is always processed.
type MalformedLine struct {
	LineNo int
	Line   string
	Reason string
}

// DecodePunchBlock parses a newline-separated block of tab-delimited punch
// records. Undecodable lines are collected, never fatal.
func DecodePunchBlock(raw string) ([]Punch, []MalformedLine) {
	var punches []Punch
	var bad []MalformedLine

	for i, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < punchFieldsN {
			bad = append(bad, MalformedLine{LineNo: i + 1, Line: line, Reason: "too few fields"})
			continue
		}
		pin := strings.TrimSpace(fields[0])
		if pin == "" {
			bad = append(bad, MalformedLine{LineNo: i + 1, Line: line, Reason: "empty user id"})
			continue
		}
		ts, err := time.ParseInLocation(timeLayout, strings.TrimSpace(fields[1]), time.Local)
		if err != nil {
			bad = append(bad, MalformedLine{LineNo: i + 1, Line: line, Reason: "bad timestamp"})
			continue
		}
		p := Punch{DeviceUserID: pin, Timestamp: ts}
		if len(fields) > 2 {
			p.State, _ = strconv.Atoi(strings.TrimSpace(fields[2]))
		}
		if len(fields) > 3 {
			p.VerifyMode, _ = strconv.Atoi(strings.TrimSpace(fields[3]))
		}
		punches = append(punches, p)
	}
	return punches, bad
}

// CommandLine is the device-facing view of one queued roster mutation.
type CommandLine struct {
	Seq          int64
	Kind         string // "ENROLL_USER" or "DELETE_USER"
	DeviceUserID string
	DisplayName  string
	CardNumber   string
}

// EncodeCommandResponse renders queued commands in delivery order, one per
// line. The sequence id in each line is echoed back by the terminal in its
// devicecmd reply and is the acknowledgement key.
func EncodeCommandResponse(cmds []CommandLine) string {
	var b strings.Builder
	for i, c := range cmds {
		if i > 0 {
			b.WriteByte('\n')
		}
		switch c.Kind {
		case "DELETE_USER":
			fmt.Fprintf(&b, "%s%d:%s PIN=%s", commandLead, c.Seq, deleteVerb, c.DeviceUserID)
		default:
			fmt.Fprintf(&b, "%s%d:%s PIN=%s\tName=%s\tCard=%s",
				commandLead, c.Seq, enrollVerb, c.DeviceUserID, c.DisplayName, c.CardNumber)
		}
	}
	return b.String()
}

// EncodeEmptyResponse is the sentinel for "no commands pending".
func EncodeEmptyResponse() string {
	return TokenOK
}

// EncodePushAck acknowledges a cdata upload with the number of accepted
// records.
func EncodePushAck(accepted int) string {
	return fmt.Sprintf("%s: %d", TokenOK, accepted)
}

// AckResult is one parsed devicecmd reply line.
type AckResult struct {
	Seq        int64
	ReturnCode int // 0 means the command executed successfully
}

// DecodeCommandAck parses devicecmd reply lines of the form
// "ID=<seq>&Return=<code>&CMD=DATA". Lines that do not carry a numeric ID
// are skipped; a missing Return defaults to failure.
func DecodeCommandAck(body string) []AckResult {
	var acks []AckResult
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var seq int64
		seqOK := false
		code := -1
		for _, kv := range strings.Split(line, "&") {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				continue
			}
			switch k {
			case "ID":
				if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
					seq, seqOK = n, true
				}
			case "Return":
				if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
					code = n
				}
			}
		}
		if !seqOK {
			continue
		}
		acks = append(acks, AckResult{Seq: seq, ReturnCode: code})
	}
	return acks
}
