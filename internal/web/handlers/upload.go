package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/kozaktomas/face-auth/internal/constants"
)

var errNoFiles = errors.New("no files provided")

// parseUpload parses a multipart form of at most constants.MaxUploadSize bytes.
func parseUpload(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		return fmt.Errorf("failed to parse multipart form: %w", err)
	}
	return nil
}

// readUploadedFiles reads every file of the form field into memory.
func readUploadedFiles(files []*multipart.FileHeader) ([][]byte, error) {
	if len(files) == 0 {
		return nil, errNoFiles
	}
	out := make([][]byte, 0, len(files))
	for _, fileHeader := range files {
		data, err := func() ([]byte, error) {
			file, err := fileHeader.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open file: %s", sanitizeForLog(fileHeader.Filename))
			}
			defer file.Close()
			data, err := io.ReadAll(file)
			if err != nil {
				return nil, fmt.Errorf("failed to read file: %s", sanitizeForLog(fileHeader.Filename))
			}
			return data, nil
		}()
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// readUploadedFile reads the first file of field.
func readUploadedFile(r *http.Request, field string) ([]byte, error) {
	files, err := readUploadedFiles(r.MultipartForm.File[field])
	if err != nil {
		return nil, err
	}
	return files[0], nil
}

// formFloat parses an optional non-negative float form value; empty means 0.
func formFloat(r *http.Request, key string) (float64, error) {
	s := r.FormValue(key)
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return f, nil
}
