/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package inference

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-lectern/internal/logging"
	"go.uber.org/zap"
)

// RemoteTranscriber sends windows to any OpenAI-compatible speech-to-text
// service
type RemoteTranscriber struct {
	baseURL    string
	language   string
	httpClient *http.Client
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// NewRemoteTranscriber checks the service health endpoint before returning
func NewRemoteTranscriber(ctx context.Context, baseURL, language string, timeout time.Duration) (*RemoteTranscriber, error) {
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := &RemoteTranscriber{
		baseURL:    strings.TrimRight(baseURL, "/"),
		language:   language,
		httpClient: &http.Client{Timeout: timeout},
	}

	if err := r.healthCheck(ctx); err != nil {
		return nil, fmt.Errorf("%w: STT service health check failed: %v", ErrModelLoad, err)
	}

	logging.LogInference("connect", zap.String("base_url", r.baseURL))
	return r, nil
}

func (r *RemoteTranscriber) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to STT service at %s: %w", r.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// Transcribe uploads the window as a float WAV file
func (r *RemoteTranscriber) Transcribe(ctx context.Context, audio []float32) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("empty audio data")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(float32ToWAV(audio, SampleRate)); err != nil {
		return "", fmt.Errorf("failed to write audio data: %w", err)
	}

	_ = writer.WriteField("language", r.language)
	_ = writer.WriteField("temperature", "0.0")
	_ = writer.WriteField("response_format", "json")

	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("transcription failed with status %d: %s", resp.StatusCode, string(msg))
	}

	var out transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to parse transcription response: %w", err)
	}

	return strings.TrimSpace(out.Text), nil
}

// Close is a no-op; the HTTP client holds no resources worth releasing
func (r *RemoteTranscriber) Close() error {
	return nil
}

// float32ToWAV wraps mono IEEE-float samples in a 44-byte RIFF header
func float32ToWAV(samples []float32, sampleRate int) []byte {
	dataSize := len(samples) * 4
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataSize))

	le32 := func(v int) { _ = binary.Write(buf, binary.LittleEndian, uint32(v)) }
	le16 := func(v int) { _ = binary.Write(buf, binary.LittleEndian, uint16(v)) }

	buf.WriteString("RIFF")
	le32(36 + dataSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	le32(16)             // fmt chunk size
	le16(3)              // IEEE float
	le16(1)              // mono
	le32(sampleRate)     // sample rate
	le32(sampleRate * 4) // byte rate
	le16(4)              // block align
	le16(32)             // bits per sample
	buf.WriteString("data")
	le32(dataSize)

	sample := make([]byte, 4)
	for _, s := range samples {
		binary.LittleEndian.PutUint32(sample, math.Float32bits(s))
		buf.Write(sample)
	}
	return buf.Bytes()
}
