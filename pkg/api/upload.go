package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/seidata/curator/pkg/metrics"
	"github.com/seidata/curator/pkg/stationxml"
	"github.com/seidata/curator/pkg/storage"
	"github.com/seidata/curator/pkg/types"
)

// handleUpload is the multipart submission intake: split, authorize,
// stage, acknowledge.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	if r.ContentLength > s.cfg.MaxUploadBytes {
		metrics.UploadsTotal.WithLabelValues("oversize").Inc()
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	files, err := readMultipartFiles(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			metrics.UploadsTotal.WithLabelValues("oversize").Inc()
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		metrics.UploadsTotal.WithLabelValues("invalid").Inc()
		http.Error(w, "invalid multipart request", http.StatusBadRequest)
		return
	}
	if len(files) == 0 {
		metrics.UploadsTotal.WithLabelValues("empty").Inc()
		s.redirectError(w, r, "empty submission")
		return
	}

	header := stationxml.Header{
		Source:  "SeiDATA",
		Sender:  s.cfg.NodeID,
		Module:  "curator",
		Created: time.Now().UTC(),
	}

	// Split and validate every file before anything is staged, so a bad
	// document aborts the whole submission.
	var artifacts []*stationxml.Artifact
	for _, data := range files {
		split, err := stationxml.Split(data, header)
		if err != nil {
			metrics.UploadsTotal.WithLabelValues("rejected").Inc()
			s.redirectError(w, r, err.Error())
			return
		}
		artifacts = append(artifacts, split...)
	}

	// Authorization denial aborts the whole submission and never
	// touches the index.
	for _, artifact := range artifacts {
		if err := s.auth.Authorize(user, artifact); err != nil {
			metrics.UploadsTotal.WithLabelValues("unauthorized").Inc()
			s.logger.Warn().
				Err(err).
				Str("user", user.Username).
				Str("network", artifact.Network.Code).
				Str("station", artifact.Station).
				Msg("submission denied")
			http.Error(w, "submission not authorized", http.StatusInternalServerError)
			return
		}
	}

	var staged []string
	for _, artifact := range artifacts {
		path, err := s.blobs.Put(artifact.Network.Code, artifact.Station, artifact.Hash, artifact.Bytes)
		if err != nil {
			s.logger.Error().Err(err).Str("hash", artifact.Hash).Msg("failed to store artifact")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		now := time.Now().UTC()
		rec := &types.FileRecord{
			ID:           uuid.New().String(),
			Network:      artifact.Network,
			Station:      artifact.Station,
			Hash:         artifact.Hash,
			Path:         path,
			ChannelCount: artifact.ChannelCount,
			SizeBytes:    int64(len(artifact.Bytes)),
			SubmitterID:  user.ID,
			Status:       types.StatusPending,
			Created:      now,
			Modified:     now,
		}

		if err := s.store.InsertFile(rec); err != nil {
			if errors.Is(err, storage.ErrDuplicateActive) {
				// Idempotent re-upload of in-flight or published bytes.
				continue
			}
			s.logger.Error().Err(err).Str("hash", artifact.Hash).Msg("failed to insert record")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		metrics.UploadBytes.Observe(float64(rec.SizeBytes))
		staged = append(staged, fmt.Sprintf("%s.%s", artifact.Network.Code, artifact.Station))
	}

	if len(staged) > 0 {
		s.broker.Publish(&types.Event{
			Type:    types.EventSubmissionReceived,
			Message: fmt.Sprintf("metadata submitted for %s", strings.Join(staged, ", ")),
			Metadata: map[string]string{
				"submitter": user.Username,
				"stations":  strings.Join(staged, ","),
			},
		})
	}

	metrics.UploadsTotal.WithLabelValues("accepted").Inc()
	s.redirectHome(w, r, tokenMetadataSuccess)
}

// readMultipartFiles drains the multipart stream into per-file byte
// slices, skipping empty parts.
func readMultipartFiles(r *http.Request) ([][]byte, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}

	var files [][]byte
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}
		files = append(files, data)
	}
	return files, nil
}

func (s *Server) redirectError(w http.ResponseWriter, r *http.Request, reason string) {
	token := tokenMetadataError + "&reason=" + url.QueryEscape(reason)
	s.redirectHome(w, r, token)
}
