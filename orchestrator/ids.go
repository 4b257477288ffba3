package orchestrator

import (
	"fmt"
	"strings"

	"github.com/gofrs/uuid"
)

type EngineTaskID string

func NewEngineTaskID() EngineTaskID {
	return EngineTaskID(fmt.Sprintf("engine-task-%s", uuid.Must(uuid.NewV4()).String()))
}

func IsValidEngineTaskID(id EngineTaskID) bool {
	return strings.HasPrefix(string(id), "engine-task-")
}
