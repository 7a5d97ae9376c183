package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"topicgrader/application/commands"
	"topicgrader/application/queries"
	"topicgrader/application/sagas"
	pkgerrors "topicgrader/pkg/errors"
)

// transcript is the replay input file
type transcript struct {
	Session string `yaml:"session" json:"session"`
	Turns   []turn `yaml:"turns" json:"turns"`
}

type turn struct {
	Question  string            `yaml:"question" json:"question"`
	Answer    string            `yaml:"answer" json:"answer"`
	Score     *float64          `yaml:"score,omitempty" json:"score,omitempty"`
	Timestamp time.Time         `yaml:"timestamp,omitempty" json:"timestamp,omitempty"`
	Metadata  map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

func readTranscript(path string) (*transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.NewValidationError("cannot read transcript").WithCause(err)
	}

	var t transcript
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &t)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &t)
	default:
		return nil, pkgerrors.NewValidationError(fmt.Sprintf("transcript %s: expected .yaml, .yml or .json", path))
	}
	if err != nil {
		return nil, pkgerrors.NewValidationError("malformed transcript").WithCause(err)
	}
	if len(t.Turns) == 0 {
		return nil, pkgerrors.NewValidationError("transcript has no turns")
	}
	return &t, nil
}

// replaySummary is printed after a replay
type replaySummary struct {
	SessionID string                     `yaml:"session_id" json:"session_id"`
	Saved     bool                       `yaml:"saved" json:"saved"`
	Turns     []commands.AddQAPairResult `yaml:"turns" json:"turns"`
	Stats     queries.StatsDTO           `yaml:"stats" json:"stats"`
	Next      *queries.TopicDTO          `yaml:"next,omitempty" json:"next,omitempty"`
}

func newReplayCmd(a *app) *cobra.Command {
	var (
		sessionID string
		save      bool
	)
	cmd := &cobra.Command{
		Use:   "replay <transcript.(yaml|json)>",
		Short: "Grade every turn of a transcript into a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := readTranscript(args[0])
			if err != nil {
				return err
			}
			if sessionID == "" {
				sessionID = t.Session
			}
			req := sagas.ReplayRequest{
				SessionID: sessionID,
				Metadata:  map[string]string{"source": filepath.Base(args[0])},
				Save:      save,
			}
			for _, tr := range t.Turns {
				req.Turns = append(req.Turns, sagas.Turn(tr))
			}

			result, err := sagas.ReplayTranscript(cmd.Context(), a.container.CommandBus, req, a.container.Logger)
			if err != nil {
				return err
			}
			summary := replaySummary{SessionID: result.SessionID, Saved: result.Saved, Turns: result.Turns}
			if summary.Stats, summary.Next, err = a.describe(cmd, result.SessionID); err != nil {
				return err
			}
			return a.print(summary)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (defaults to the transcript's, else generated)")
	cmd.Flags().BoolVar(&save, "save", false, "persist the session to the configured store")
	return cmd
}

// describe reads the stats and the deepest unvisited branch of a session
func (a *app) describe(cmd *cobra.Command, id string) (queries.StatsDTO, *queries.TopicDTO, error) {
	ctx := cmd.Context()
	out, err := a.container.QueryBus.Ask(ctx, &queries.GetStatsQuery{SessionID: id})
	if err != nil {
		return queries.StatsDTO{}, nil, err
	}
	stats := out.(queries.StatsDTO)

	out, err = a.container.QueryBus.Ask(ctx, &queries.GetDeepestUnvisitedBranchQuery{SessionID: id})
	if err != nil {
		return queries.StatsDTO{}, nil, err
	}
	return stats, out.(*queries.TopicDTO), nil
}
