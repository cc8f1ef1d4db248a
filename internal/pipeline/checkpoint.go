package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"

	"subtrans/internal/fileutil"
	"subtrans/internal/services"
)

const checkpointFile = "checkpoint.json"

// Checkpoint captures a paused or in-flight run so a resume can skip
// already-translated chunks. Translations is sparse; entries past the done
// chunks are empty.
type Checkpoint struct {
	SourceFile     string   `json:"source_file"`
	SourceFormat   string   `json:"source_format"`
	TrackIndex     *int     `json:"track_index,omitempty"`
	SourceLanguage string   `json:"source_language,omitempty"`
	ChunksDone     int      `json:"chunks_done"`
	ChunksTotal    int      `json:"chunks_total"`
	Translations   []string `json:"translations"`
}

func checkpointPath(scratchDir string) string {
	return filepath.Join(scratchDir, checkpointFile)
}

func saveCheckpoint(scratchDir string, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return services.Wrap(services.ErrConsistency, "pipeline", "checkpoint", "encode checkpoint", err)
	}
	if err := fileutil.WriteFileAtomic(checkpointPath(scratchDir), data, 0o644); err != nil {
		return services.Wrap(services.ErrTransient, "pipeline", "checkpoint", "write checkpoint", err)
	}
	return nil
}

// loadCheckpoint returns nil without error when no checkpoint exists.
func loadCheckpoint(scratchDir string) (*Checkpoint, error) {
	data, err := os.ReadFile(checkpointPath(scratchDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrTransient, "pipeline", "checkpoint", "read checkpoint", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		// A corrupt checkpoint restarts the task from scratch.
		return nil, nil
	}
	return &cp, nil
}
