package discovery

import (
	"fmt"
	"slices"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeServerTXT creates the TXT records of a server advertisement.
func EncodeServerTXT(info *ServerInfo) TXTRecordMap {
	txt := TXTRecordMap{TXTKeyVersion: ProtocolVersion}
	if info.WebSocket {
		txt[TXTKeyWebSocket] = "1"
	}
	if info.TLS {
		txt[TXTKeyTLS] = "1"
	}
	return txt
}

// DecodeServerTXT parses the TXT records of a server advertisement into
// svc. Unknown keys are ignored.
func DecodeServerTXT(txt TXTRecordMap, svc *ServerService) error {
	v, ok := txt[TXTKeyVersion]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	if v == "" {
		return fmt.Errorf("%w: empty %s", ErrInvalidTXTRecord, TXTKeyVersion)
	}
	svc.Version = v

	var err error
	if svc.WebSocket, err = parseFlag(txt, TXTKeyWebSocket); err != nil {
		return err
	}
	if svc.TLS, err = parseFlag(txt, TXTKeyTLS); err != nil {
		return err
	}
	return nil
}

func parseFlag(txt TXTRecordMap, key string) (bool, error) {
	switch v, ok := txt[key]; {
	case !ok, v == "0":
		return false, nil
	case v == "1", v == "":
		return true, nil
	default:
		return false, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, key, v)
	}
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	slices.Sort(result)
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, _ := strings.Cut(s, "=")
		if k != "" {
			// A key without value is a boolean flag.
			txt[k] = v
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
