// Package uploader pushes slot state to the parking backend. Each report
// is a multipart POST: a "data" form field carrying the slot record as
// JSON, and an optional "image" part with the annotated JPEG.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/BorikGor/ESEProject/internal/config"
)

// Record is the slot state payload the backend expects in the "data" field.
type Record struct {
	SlotID   int    `json:"slot_id"`
	SlotType string `json:"slot_type"`
	Status   string `json:"status"` // occupied, vacant
	// LicensePlate is null when the slot is vacant
	LicensePlate *string `json:"license_plate"`
	Timestamp    string  `json:"timestamp"`
}

// Client reports slot state changes to the parking backend.
type Client struct {
	url      string
	slotID   int
	slotType string
	http     *http.Client
	log      *slog.Logger
}

// New creates an upload client from the upload section of the config.
func New(cfg config.UploadConfig, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		url:      cfg.URL,
		slotID:   cfg.SlotID,
		slotType: cfg.SlotType,
		http:     &http.Client{Timeout: time.Duration(cfg.TimeoutS) * time.Second},
		log:      log,
	}
}

// SlotOccupied reports the slot occupied by the given plate.
func (c *Client) SlotOccupied(ctx context.Context, plate string, image []byte) error {
	return c.report(ctx, "occupied", &plate, image)
}

// SlotVacant reports the slot empty.
func (c *Client) SlotVacant(ctx context.Context, image []byte) error {
	return c.report(ctx, "vacant", nil, image)
}

func (c *Client) report(ctx context.Context, status string, plate *string, image []byte) error {
	rec := Record{
		SlotID:       c.slotID,
		SlotType:     c.slotType,
		Status:       status,
		LicensePlate: plate,
		Timestamp:    time.Now().Format(time.RFC3339),
	}

	recJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("uploader: marshal record: %w", err)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("data", string(recJSON)); err != nil {
		return fmt.Errorf("uploader: write data field: %w", err)
	}
	if len(image) > 0 {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="image"; filename="snapshot.jpg"`)
		h.Set("Content-Type", "image/jpeg")
		part, err := w.CreatePart(h)
		if err != nil {
			return fmt.Errorf("uploader: create image part: %w", err)
		}
		if _, err := part.Write(image); err != nil {
			return fmt.Errorf("uploader: write image part: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("uploader: finalize body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return fmt.Errorf("uploader: build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("uploader: post %s: %w", c.url, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("uploader: backend returned %s", resp.Status)
	}

	c.log.Debug("slot state uploaded",
		"status", status,
		"slot_id", c.slotID,
		"image_bytes", len(image),
	)
	return nil
}
