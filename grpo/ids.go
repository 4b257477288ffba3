package grpo

import (
	"fmt"
	"strings"

	"github.com/gofrs/uuid"
)

type EpisodeID string

func NewEpisodeID() EpisodeID {
	return EpisodeID(fmt.Sprintf("episode-%s", uuid.Must(uuid.NewV4()).String()))
}

func IsValidEpisodeID(id EpisodeID) bool {
	return strings.HasPrefix(string(id), "episode-")
}

// GroupID names a group when it is handed to the policy worker for an update.
type GroupID string

func NewGroupID() GroupID {
	return GroupID(fmt.Sprintf("group-%s", uuid.Must(uuid.NewV4()).String()))
}

type RunID string

func NewRunID() RunID {
	return RunID(fmt.Sprintf("run-%s", uuid.Must(uuid.NewV4()).String()))
}
