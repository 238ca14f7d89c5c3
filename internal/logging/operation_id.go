package logging

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var operationCounter atomic.Uint64

// GenerateOperationID returns an identifier for one logical operation such
// as a flush. The format is hex seconds, a wrapping counter and a random
// suffix: "6720c4f0-002a-9f1c2b7e".
func GenerateOperationID() string {
	return formatOperationID(time.Now().Unix(), operationCounter.Add(1), uuid.New())
}

func formatOperationID(ts int64, counter uint64, random uuid.UUID) string {
	return fmt.Sprintf("%08x-%04x-%x", uint32(ts), uint16(counter), random[:4])
}
