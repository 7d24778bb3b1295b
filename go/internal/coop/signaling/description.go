// Package signaling bootstraps a direct peer channel by exchanging session
// descriptions and connectivity candidates through a relay store.
package signaling

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidDescription is returned for malformed descriptions and SDP bodies.
var ErrInvalidDescription = errors.New("invalid session description")

type DescriptionType string

const (
	TypeOffer  DescriptionType = "offer"
	TypeAnswer DescriptionType = "answer"
)

// Description is the JSON document exchanged during the handshake.
type Description struct {
	Type DescriptionType `json:"type"`
	SDP  string          `json:"sdp"`
}

// Encode returns the JSON form of d.
func (d Description) Encode() (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseDescription decodes raw and checks it carries the wanted type and a
// body.
func ParseDescription(raw []byte, want DescriptionType) (Description, error) {
	var d Description
	if err := json.Unmarshal(raw, &d); err != nil {
		return Description{}, fmt.Errorf("%w: not a JSON document: %v", ErrInvalidDescription, err)
	}
	switch {
	case d.Type == "":
		return Description{}, fmt.Errorf("%w: missing type", ErrInvalidDescription)
	case d.Type != want:
		return Description{}, fmt.Errorf("%w: expected type %q, got %q", ErrInvalidDescription, want, d.Type)
	case strings.TrimSpace(d.SDP) == "":
		return Description{}, fmt.Errorf("%w: missing sdp", ErrInvalidDescription)
	}
	return d, nil
}

// Body is the content carried in a description's SDP.
type Body struct {
	Session    string
	Token      string
	Candidates []string
}

// SDP renders b in its line-oriented form.
func (b Body) SDP() string {
	var sb strings.Builder
	sb.WriteString("v=0\r\n")
	fmt.Fprintf(&sb, "o=- %s 0 IN IP4 0.0.0.0\r\n", b.Session)
	sb.WriteString("s=coop\r\n")
	fmt.Fprintf(&sb, "a=token:%s\r\n", b.Token)
	for i, c := range b.Candidates {
		fmt.Fprintf(&sb, "a=candidate:%d %s\r\n", i, c)
	}
	return sb.String()
}

// ParseSDP reads a body written by Body.SDP. Unknown lines are ignored.
func ParseSDP(sdp string) (Body, error) {
	var b Body
	sc := bufio.NewScanner(strings.NewReader(sdp))
	first := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if first {
			if line != "v=0" {
				return Body{}, fmt.Errorf("%w: unsupported version line %q", ErrInvalidDescription, line)
			}
			first = false
			continue
		}
		switch {
		case strings.HasPrefix(line, "o="):
			fields := strings.Fields(strings.TrimPrefix(line, "o="))
			if len(fields) < 2 {
				return Body{}, fmt.Errorf("%w: malformed origin %q", ErrInvalidDescription, line)
			}
			b.Session = fields[1]
		case strings.HasPrefix(line, "a=token:"):
			b.Token = strings.TrimPrefix(line, "a=token:")
		case strings.HasPrefix(line, "a=candidate:"):
			idx, url, ok := strings.Cut(strings.TrimPrefix(line, "a=candidate:"), " ")
			if !ok {
				return Body{}, fmt.Errorf("%w: malformed candidate %q", ErrInvalidDescription, line)
			}
			if _, err := strconv.Atoi(idx); err != nil {
				return Body{}, fmt.Errorf("%w: malformed candidate index %q", ErrInvalidDescription, idx)
			}
			b.Candidates = append(b.Candidates, strings.TrimSpace(url))
		}
	}
	if err := sc.Err(); err != nil {
		return Body{}, err
	}
	if first {
		return Body{}, fmt.Errorf("%w: empty sdp", ErrInvalidDescription)
	}
	if b.Session == "" || b.Token == "" {
		return Body{}, fmt.Errorf("%w: sdp lacks session or token", ErrInvalidDescription)
	}
	return b, nil
}

// Candidate is a single connectivity candidate.
type Candidate struct {
	Candidate  string `json:"candidate"`
	MLineIndex int    `json:"sdpMLineIndex"`
}

// Key identifies a candidate for deduplication.
func (c Candidate) Key() string {
	return c.Candidate + ":" + strconv.Itoa(c.MLineIndex)
}
