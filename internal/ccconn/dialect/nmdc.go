package dialect

import (
	"fmt"
	"strconv"
	"strings"
)

// NMDC handshake message kinds, in the order spec.md §4.F lists them.
type NMDCHandshake struct {
	Nick      string // $MyNick
	Lock      string // $Lock <lock> Pk=<pk>
	Pk        string
	Supports  []string // $Supports <flags...>
	Direction string   // "Download" or "Upload"
	DirNum    int      // $Direction's random 16-bit tie-breaker
	Key       string   // $Key <key>
}

// ParseNMDCLine parses one pipe-terminated NMDC CC message (the trailing
// '|' already stripped) into a Get, Send, Status, or raw handshake token.
// kind reports which field of the result is populated.
func ParseNMDCLine(line string) (kind string, get Get, send Send, status Status, handshake map[string]string, err error) {
	if !strings.HasPrefix(line, "$") {
		return "", Get{}, Send{}, Status{}, nil, fmt.Errorf("dialect: not an nmdc message: %q", line)
	}
	fields := strings.SplitN(line[1:], " ", 2)
	verb := fields[0]
	var rest string
	if len(fields) > 1 {
		rest = fields[1]
	}

	switch verb {
	case "ADCGET":
		g, err := parseADCGETLine(rest)
		return "get", g, Send{}, Status{}, nil, err
	case "ADCSND":
		s, err := parseADCSNDLine(rest)
		return "send", Get{}, s, Status{}, nil, err
	case "Error":
		return "status", Get{}, Send{}, Status{Code: 0, Msg: rest}, nil, nil
	case "MaxedOut":
		return "status", Get{}, Send{}, Status{Code: StatusSlotsFull, Msg: "slots full"}, nil, nil
	case "MyNick", "Lock", "Supports", "Direction", "Key":
		return "handshake", Get{}, Send{}, Status{}, map[string]string{verb: rest}, nil
	default:
		return "", Get{}, Send{}, Status{}, nil, fmt.Errorf("dialect: unrecognized nmdc verb %q", verb)
	}
}

func parseADCGETLine(rest string) (Get, error) {
	parts := strings.Fields(rest)
	if len(parts) < 4 {
		return Get{}, fmt.Errorf("dialect: malformed $ADCGET: %q", rest)
	}
	ft, ok := ParseFileType(parts[0])
	if !ok {
		return Get{}, fmt.Errorf("dialect: unknown file type %q", parts[0])
	}
	start, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Get{}, fmt.Errorf("dialect: bad start %q: %w", parts[2], err)
	}
	length, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return Get{}, fmt.Errorf("dialect: bad length %q: %w", parts[3], err)
	}
	return Get{Type: ft, ID: parts[1], Start: start, Bytes: length}, nil
}

func parseADCSNDLine(rest string) (Send, error) {
	parts := strings.Fields(rest)
	if len(parts) < 4 {
		return Send{}, fmt.Errorf("dialect: malformed $ADCSND: %q", rest)
	}
	ft, ok := ParseFileType(parts[0])
	if !ok {
		return Send{}, fmt.Errorf("dialect: unknown file type %q", parts[0])
	}
	start, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Send{}, fmt.Errorf("dialect: bad start %q: %w", parts[2], err)
	}
	length, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return Send{}, fmt.Errorf("dialect: bad length %q: %w", parts[3], err)
	}
	return Send{Type: ft, ID: parts[1], Start: start, Bytes: length}, nil
}

// FormatNMDCGet renders a Get as a $ADCGET line, with the trailing '|'.
func FormatNMDCGet(g Get) string {
	return fmt.Sprintf("$ADCGET %s %s %d %d|", g.Type, g.ID, g.Start, g.Bytes)
}

// FormatNMDCSend renders a Send as a $ADCSND line, with the trailing '|'.
func FormatNMDCSend(s Send) string {
	return fmt.Sprintf("$ADCSND %s %s %d %d|", s.Type, s.ID, s.Start, s.Bytes)
}

// FormatNMDCError renders an upload-side rejection as an $Error line.
func FormatNMDCError(msg string) string {
	return fmt.Sprintf("$Error %s|", msg)
}

// FormatNMDCMaxedOut renders the canonical "slots full" rejection.
func FormatNMDCMaxedOut() string { return "$MaxedOut|" }

// FormatNMDCMyNick, FormatNMDCLock, FormatNMDCSupports, and
// FormatNMDCDirection render the handshake messages in the order spec.md
// §4.F exchanges them.
func FormatNMDCMyNick(nick string) string { return fmt.Sprintf("$MyNick %s|", nick) }

func FormatNMDCLock(lock, pk string) string { return fmt.Sprintf("$Lock %s Pk=%s|", lock, pk) }

func FormatNMDCSupports(flags []string) string {
	return fmt.Sprintf("$Supports %s|", strings.Join(flags, " "))
}

func FormatNMDCDirection(direction string, num int) string {
	return fmt.Sprintf("$Direction %s %d|", direction, num)
}

func FormatNMDCKey(key string) string { return fmt.Sprintf("$Key %s|", key) }
