package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/openscribe/transcriber/internal/dispatch"
	"github.com/openscribe/transcriber/internal/jobs"
	"github.com/openscribe/transcriber/internal/media"
	"github.com/openscribe/transcriber/internal/selector"
	"github.com/openscribe/transcriber/internal/transcript"
	"github.com/openscribe/transcriber/pkg/log"
)

const maxUploadBytes = 512 << 20

type transcriptionRequest struct {
	URL         string `json:"url"`
	TranslateTo string `json:"translate_to"`
	Diarise     bool   `json:"diarise"`
	Format      string `json:"format"`
}

func (s *Server) handleYouTube(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	var body transcriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid json body")
		return
	}
	if strings.TrimSpace(body.URL) == "" {
		writeError(w, http.StatusBadRequest, "MISSING_INPUT", "url is required")
		return
	}
	if !media.IsYouTubeURL(body.URL) {
		writeError(w, http.StatusUnprocessableEntity, "INVALID_URL",
			"not a YouTube URL; use /v1/transcriptions/media for other sources")
		return
	}
	if _, err := media.ExtractVideoID(body.URL); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "INVALID_URL", err.Error())
		return
	}

	format, err := transcript.ParseFormat(body.Format)
	if err != nil {
		writeError(w, http.StatusBadRequest, "UNSUPPORTED_FORMAT", err.Error())
		return
	}

	s.dispatchRequest(w, r, selector.Request{
		Media:       media.Ref{URL: body.URL},
		TranslateTo: body.TranslateTo,
		Diarise:     body.Diarise,
		Format:      format,
	})
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	var body transcriptionRequest
	var ref media.Ref

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		uploadPath, form, ok := s.acceptUpload(w, r)
		if !ok {
			return
		}
		body = form
		if uploadPath != "" {
			ref = media.Ref{UploadPath: uploadPath}
		}
	} else {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid json body")
			return
		}
	}

	if ref.UploadPath == "" {
		url := strings.TrimSpace(body.URL)
		if url == "" {
			writeError(w, http.StatusBadRequest, "MISSING_INPUT", "provide a file upload or a url")
			return
		}
		if media.IsYouTubeURL(url) {
			writeError(w, http.StatusBadRequest, "USE_YOUTUBE_ENDPOINT",
				"YouTube URLs must go through /v1/transcriptions/youtube")
			return
		}
		ref = media.Ref{URL: url}
	}

	format, err := transcript.ParseFormat(body.Format)
	if err != nil {
		writeError(w, http.StatusBadRequest, "UNSUPPORTED_FORMAT", err.Error())
		return
	}

	s.dispatchRequest(w, r, selector.Request{
		Media:       ref,
		TranslateTo: body.TranslateTo,
		Diarise:     body.Diarise,
		Format:      format,
	})
}

// acceptUpload saves the uploaded file and reads the form fields that ride
// along with it. On failure the response has already been written.
func (s *Server) acceptUpload(w http.ResponseWriter, r *http.Request) (string, transcriptionRequest, bool) {
	var form transcriptionRequest

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart body")
		return "", form, false
	}
	form.URL = r.FormValue("url")
	form.TranslateTo = r.FormValue("translate_to")
	form.Format = r.FormValue("format")
	form.Diarise, _ = strconv.ParseBool(r.FormValue("diarise"))

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", form, true
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid file field")
		return "", form, false
	}
	defer file.Close()

	ext, err := media.ExtForContentType(header.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT", err.Error())
		return "", form, false
	}

	dir := s.uploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "cannot store upload")
		return "", form, false
	}
	path := filepath.Join(dir, uuid.NewString()+ext)
	dest, err := os.Create(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "cannot store upload")
		return "", form, false
	}
	if _, err := io.Copy(dest, file); err != nil {
		_ = dest.Close()
		_ = os.Remove(path)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "cannot store upload")
		return "", form, false
	}
	if err := dest.Close(); err != nil {
		_ = os.Remove(path)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "cannot store upload")
		return "", form, false
	}
	return path, form, true
}

// dispatchRequest routes the request inline or async and writes the answer.
func (s *Server) dispatchRequest(w http.ResponseWriter, r *http.Request, req selector.Request) {
	if s.policy != nil && s.policy.Route(r.Context(), req) == dispatch.RouteAsync {
		job := s.queue.Admit(req)
		log.Info("Admitted job %s for %s", job.ID, req.Media.Key())
		writeJSON(w, http.StatusAccepted, map[string]any{
			"job_id": job.ID,
			"status": job.Status,
		})
		return
	}

	result, err := s.selector.Transcribe(r.Context(), req)
	if err != nil {
		writeSelectorError(w, err)
		return
	}
	rendered, err := transcript.Render(result, req.Format)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	w.Header().Set("Content-Type", req.Format.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rendered)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	jobList := s.queue.List()
	ret := make([]jobResponse, 0, len(jobList))
	for _, job := range jobList {
		ret = append(ret, toJobResponse(job))
	}
	writeJSON(w, http.StatusOK, ret)
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/jobs/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", "no such job")
		return
	}

	switch r.Method {
	case http.MethodGet:
		job, ok := s.queue.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", "no such job")
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(job))
	case http.MethodDelete:
		_, err := s.queue.Cancel(id)
		switch {
		case errors.Is(err, jobs.ErrNotFound):
			writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", "no such job")
		case errors.Is(err, jobs.ErrAlreadyFinished):
			writeError(w, http.StatusBadRequest, "JOB_ALREADY_FINISHED", "job already finished")
		case err != nil:
			writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

type jobResponse struct {
	JobID     string                 `json:"job_id"`
	Status    jobs.Status            `json:"status"`
	Attempts  int                    `json:"attempts"`
	CreatedAt string                 `json:"created_at"`
	UpdatedAt string                 `json:"updated_at"`
	Result    *transcript.Transcript `json:"result,omitempty"`
	Rendered  string                 `json:"rendered,omitempty"`
	Error     *selector.Error        `json:"error,omitempty"`
}

// toJobResponse renders a completed result in the format the request asked
// for; JSON requests get the structured transcript directly.
func toJobResponse(job *jobs.Job) jobResponse {
	ret := jobResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Attempts:  job.Attempts,
		CreatedAt: job.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		UpdatedAt: job.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Error:     job.Err,
	}
	if job.Status == jobs.StatusCompleted && job.Result != nil {
		if job.Request.Format == transcript.FormatJSON {
			ret.Result = job.Result
		} else if rendered, err := transcript.Render(*job.Result, job.Request.Format); err == nil {
			ret.Rendered = string(rendered)
		}
	}
	return ret
}

var errorStatus = map[selector.ErrorKind]int{
	selector.KindMediaUnavailable:        http.StatusNotFound,
	selector.KindPlatformRestricted:      http.StatusForbidden,
	selector.KindTimeout:                 http.StatusGatewayTimeout,
	selector.KindModelUnavailable:        http.StatusServiceUnavailable,
	selector.KindUnsupportedLanguagePair: http.StatusBadRequest,
	selector.KindUnsupportedFormat:       http.StatusBadRequest,
	selector.KindJobNotFound:             http.StatusNotFound,
	selector.KindInternal:                http.StatusInternalServerError,
}

func writeSelectorError(w http.ResponseWriter, err error) {
	serr := selector.Classify(err)
	status, ok := errorStatus[serr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeError(w, status, serr.Code, serr.Message)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": msg,
		},
	})
}
