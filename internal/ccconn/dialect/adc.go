package dialect

import (
	"fmt"
	"strconv"
	"strings"
)

// ADCHandshake holds the fields exchanged by CSUP/CINF, per spec.md §4.F.
type ADCHandshake struct {
	Features []string // CSUP
	CID      string   // CINF ID<cid>, base32-encoded
	Token    string   // CINF TO<token>, active side only
}

// ParseADCLine parses one newline-terminated ADC CC message (the trailing
// newline already stripped). kind reports which result field is populated:
// "get", "send", "status", or "handshake".
func ParseADCLine(line string) (kind string, get Get, send Send, status Status, handshake ADCHandshake, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", Get{}, Send{}, Status{}, ADCHandshake{}, fmt.Errorf("dialect: empty adc line")
	}

	switch fields[0] {
	case "CSUP":
		return "handshake", Get{}, Send{}, Status{}, ADCHandshake{Features: fields[1:]}, nil
	case "CINF":
		h := ADCHandshake{}
		for _, tok := range fields[1:] {
			if len(tok) < 2 {
				continue
			}
			switch tok[:2] {
			case "ID":
				h.CID = tok[2:]
			case "TO":
				h.Token = tok[2:]
			}
		}
		return "handshake", Get{}, Send{}, Status{}, h, nil
	case "CGET":
		g, err := parseADCTransferFields(fields[1:])
		if err != nil {
			return "", Get{}, Send{}, Status{}, ADCHandshake{}, err
		}
		get := Get{Type: g.Type, ID: g.ID, Start: g.Start, Bytes: g.Bytes}
		for _, tok := range fields[1:] {
			switch tok {
			case "ZL1":
				get.Zlib = true
			case "RE1":
				get.Recurse = true
			}
		}
		return "get", get, Send{}, Status{}, ADCHandshake{}, nil
	case "CSND":
		g, err := parseADCTransferFields(fields[1:])
		if err != nil {
			return "", Get{}, Send{}, Status{}, ADCHandshake{}, err
		}
		send := Send{Type: g.Type, ID: g.ID, Start: g.Start, Bytes: g.Bytes}
		for _, tok := range fields[1:] {
			if tok == "ZL1" {
				send.Zlib = true
			}
		}
		return "send", Get{}, send, Status{}, ADCHandshake{}, nil
	case "CSTA":
		if len(fields) < 2 {
			return "", Get{}, Send{}, Status{}, ADCHandshake{}, fmt.Errorf("dialect: malformed CSTA: %q", line)
		}
		code, err := strconv.Atoi(fields[1])
		if err != nil {
			return "", Get{}, Send{}, Status{}, ADCHandshake{}, fmt.Errorf("dialect: bad CSTA code %q: %w", fields[1], err)
		}
		msg := UnescapeADC(strings.Join(fields[2:], " "))
		return "status", Get{}, Send{}, Status{Code: code, Msg: msg}, ADCHandshake{}, nil
	default:
		return "", Get{}, Send{}, Status{}, ADCHandshake{}, fmt.Errorf("dialect: unrecognized adc verb %q", fields[0])
	}
}

func parseADCTransferFields(fields []string) (Get, error) {
	if len(fields) < 4 {
		return Get{}, fmt.Errorf("dialect: malformed adc transfer message: %v", fields)
	}
	ft, ok := ParseFileType(fields[0])
	if !ok {
		return Get{}, fmt.Errorf("dialect: unknown file type %q", fields[0])
	}
	start, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Get{}, fmt.Errorf("dialect: bad start %q: %w", fields[2], err)
	}
	length, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return Get{}, fmt.Errorf("dialect: bad length %q: %w", fields[3], err)
	}
	return Get{Type: ft, ID: UnescapeADC(fields[1]), Start: start, Bytes: length}, nil
}

// FormatADCSup renders CSUP with the given feature tokens.
func FormatADCSup(features []string) string {
	return "CSUP " + strings.Join(features, " ")
}

// FormatADCInf renders CINF with a CID and, for the active side, a token.
func FormatADCInf(cid, token string) string {
	if token == "" {
		return "CINF ID" + cid
	}
	return fmt.Sprintf("CINF ID%s TO%s", cid, token)
}

// FormatADCGet renders a Get as a CGET line.
func FormatADCGet(g Get) string {
	line := fmt.Sprintf("CGET %s %s %d %d", g.Type, EscapeADC(g.ID), g.Start, g.Bytes)
	if g.Zlib {
		line += " ZL1"
	}
	if g.Recurse {
		line += " RE1"
	}
	return line
}

// FormatADCSend renders a Send as a CSND line.
func FormatADCSend(s Send) string {
	line := fmt.Sprintf("CSND %s %s %d %d", s.Type, EscapeADC(s.ID), s.Start, s.Bytes)
	if s.Zlib {
		line += " ZL1"
	}
	return line
}

// FormatADCStatus renders a Status as a CSTA line.
func FormatADCStatus(s Status) string {
	return fmt.Sprintf("CSTA %03d %s", s.Code, EscapeADC(s.Msg))
}
