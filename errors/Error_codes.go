package errors

import "strconv"

// ERR is the numeric error code carried by every Error.
type ERR int32

const (
	ERR_UNKNOWN                    ERR = 0
	ERR_INVALID_ARGUMENT           ERR = 1
	ERR_THRESHOLD_EXCEEDED         ERR = 2
	ERR_NOT_FOUND                  ERR = 3
	ERR_PROCESSING                 ERR = 4
	ERR_CONFIGURATION              ERR = 5
	ERR_CONTEXT                    ERR = 6
	ERR_CONTEXT_CANCELED           ERR = 7
	ERR_ERROR                      ERR = 9
	ERR_BLOCK_NOT_FOUND            ERR = 10
	ERR_BLOCK_INVALID              ERR = 11
	ERR_TX_NOT_FOUND               ERR = 30
	ERR_TX_INVALID                 ERR = 31
	ERR_SERVICE_UNAVAILABLE        ERR = 50
	ERR_SERVICE_NOT_STARTED        ERR = 51
	ERR_SERVICE_ERROR              ERR = 52
	ERR_STORAGE_UNAVAILABLE        ERR = 60
	ERR_STORAGE_ERROR              ERR = 62
	ERR_NETWORK_ERROR              ERR = 80
	ERR_NETWORK_TIMEOUT            ERR = 81
	ERR_NETWORK_CONNECTION_REFUSED ERR = 82
	ERR_NETWORK_INVALID_RESPONSE   ERR = 83
	ERR_NETWORK_PEER_MALICIOUS     ERR = 84
)

var (
	ERR_name = map[int32]string{
		0:  "UNKNOWN",
		1:  "INVALID_ARGUMENT",
		2:  "THRESHOLD_EXCEEDED",
		3:  "NOT_FOUND",
		4:  "PROCESSING",
		5:  "CONFIGURATION",
		6:  "CONTEXT",
		7:  "CONTEXT_CANCELED",
		9:  "ERROR",
		10: "BLOCK_NOT_FOUND",
		11: "BLOCK_INVALID",
		30: "TX_NOT_FOUND",
		31: "TX_INVALID",
		50: "SERVICE_UNAVAILABLE",
		51: "SERVICE_NOT_STARTED",
		52: "SERVICE_ERROR",
		60: "STORAGE_UNAVAILABLE",
		62: "STORAGE_ERROR",
		80: "NETWORK_ERROR",
		81: "NETWORK_TIMEOUT",
		82: "NETWORK_CONNECTION_REFUSED",
		83: "NETWORK_INVALID_RESPONSE",
		84: "NETWORK_PEER_MALICIOUS",
	}

	ERR_value = func() map[string]int32 {
		m := make(map[string]int32, len(ERR_name))
		for k, v := range ERR_name {
			m[v] = k
		}

		return m
	}()
)

func (x ERR) Enum() *ERR {
	p := new(ERR)
	*p = x

	return p
}

func (x ERR) String() string {
	if name, ok := ERR_name[int32(x)]; ok {
		return name
	}

	return strconv.Itoa(int(x))
}
