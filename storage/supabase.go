// Package storage uploads finished videos to Supabase Storage. Small files
// go up in one POST; anything at or above the TUS threshold uses the
// resumable protocol in fixed chunks.
package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"brand-video-pipeline/apiclient"
)

const (
	// tusThreshold is the size at which uploads switch to the resumable
	// protocol. Supabase requires TUS for objects of 6MiB and up.
	tusThreshold = 6 * 1024 * 1024

	tusChunkSize = 5 * 1024 * 1024

	tusVersion = "1.0.0"

	videoMIME = "video/mp4"
)

// Client uploads objects to one Supabase project and bucket.
type Client struct {
	api        *apiclient.Client
	projectURL string
	bucket     string
	log        zerolog.Logger
}

// New builds a storage client for a Supabase project. projectURL is the
// project base (https://xyz.supabase.co), key the service role key.
func New(projectURL, key, bucket string) (*Client, error) {
	if projectURL == "" || key == "" {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_KEY must be configured")
	}
	projectURL = strings.TrimRight(projectURL, "/")
	api := apiclient.New(projectURL,
		apiclient.WithBearerToken(key),
		apiclient.WithHeader("apikey", key),
		apiclient.WithTimeout(2*time.Minute),
	)
	return &Client{
		api:        api,
		projectURL: projectURL,
		bucket:     bucket,
		log:        log.With().Str("component", "storage").Str("bucket", bucket).Logger(),
	}, nil
}

// uploadMethod picks the transfer strategy for an object size.
func uploadMethod(size int64) string {
	if size >= tusThreshold {
		return "tus"
	}
	return "single"
}

// tusMetadata encodes the TUS Upload-Metadata header: comma-separated
// key/base64(value) pairs.
func tusMetadata(bucket, object, mime string) string {
	enc := func(s string) string {
		return base64.StdEncoding.EncodeToString([]byte(s))
	}
	pairs := []string{
		"bucketName " + enc(bucket),
		"objectName " + enc(object),
		"contentType " + enc(mime),
		"cacheControl " + enc("3600"),
	}
	return strings.Join(pairs, ",")
}

// Upload stores the file at localPath under objectPath in the bucket and
// returns the public URL.
func (c *Client) Upload(ctx context.Context, localPath, objectPath string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", localPath, err)
	}
	size := info.Size()
	if size == 0 {
		return "", fmt.Errorf("refusing to upload empty file %s", localPath)
	}

	method := uploadMethod(size)
	c.log.Info().Str("object", objectPath).Int64("bytes", size).
		Str("method", method).Msg("uploading video")

	start := time.Now()
	if method == "tus" {
		err = c.uploadTUS(ctx, localPath, objectPath, size)
	} else {
		err = c.uploadSingle(ctx, localPath, objectPath)
	}
	if err != nil {
		return "", err
	}

	publicURL := c.PublicURL(objectPath)
	c.log.Info().Str("object", objectPath).Int64("bytes", size).
		Dur("duration", time.Since(start)).Str("url", publicURL).
		Msg("upload complete")
	return publicURL, nil
}

// uploadSingle sends the whole object in one POST with upsert enabled.
func (c *Client) uploadSingle(ctx context.Context, localPath, objectPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", localPath, err)
	}

	path := fmt.Sprintf("/storage/v1/object/%s/%s", c.bucket, objectPath)
	headers := map[string]string{
		"Content-Type": videoMIME,
		"x-upsert":     "true",
	}
	if _, err := c.api.Do(ctx, http.MethodPost, path, data, headers); err != nil {
		return fmt.Errorf("upload %s: %w", objectPath, err)
	}
	return nil
}

// uploadTUS runs the resumable protocol: create the upload session, then
// PATCH the file in chunks, carrying the server's offset forward. Session
// state is held in memory only; a process restart starts the upload over.
func (c *Client) uploadTUS(ctx context.Context, localPath, objectPath string, size int64) error {
	createHeaders := map[string]string{
		"Tus-Resumable":   tusVersion,
		"Upload-Length":   strconv.FormatInt(size, 10),
		"Upload-Metadata": tusMetadata(c.bucket, objectPath, videoMIME),
		"x-upsert":        "true",
	}
	resp, err := c.api.Do(ctx, http.MethodPost, "/storage/v1/upload/resumable", nil, createHeaders)
	if err != nil {
		return fmt.Errorf("create resumable upload for %s: %w", objectPath, err)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return fmt.Errorf("resumable upload for %s returned no Location", objectPath)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	buf := make([]byte, tusChunkSize)
	var offset int64
	for offset < size {
		n, err := f.ReadAt(buf, offset)
		if n == 0 {
			return fmt.Errorf("read chunk at %d: %w", offset, err)
		}
		chunk := buf[:n]

		patchHeaders := map[string]string{
			"Tus-Resumable": tusVersion,
			"Content-Type":  "application/offset+octet-stream",
			"Upload-Offset": strconv.FormatInt(offset, 10),
		}
		resp, err := c.api.Do(ctx, http.MethodPatch, location, chunk, patchHeaders)
		if err != nil {
			return fmt.Errorf("upload chunk at %d: %w", offset, err)
		}

		next, err := strconv.ParseInt(resp.Header.Get("Upload-Offset"), 10, 64)
		if err != nil {
			return fmt.Errorf("parse Upload-Offset %q: %w", resp.Header.Get("Upload-Offset"), err)
		}
		if next <= offset {
			return fmt.Errorf("upload offset did not advance past %d", offset)
		}
		c.log.Debug().Int64("offset", next).Int64("total", size).Msg("chunk uploaded")
		offset = next
	}
	return nil
}

// PublicURL returns the public access URL for an object in the bucket.
func (c *Client) PublicURL(objectPath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.projectURL, c.bucket, objectPath)
}

// Delete removes an object from the bucket.
func (c *Client) Delete(ctx context.Context, objectPath string) error {
	path := fmt.Sprintf("/storage/v1/object/%s/%s", c.bucket, objectPath)
	if _, err := c.api.Do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete %s: %w", objectPath, err)
	}
	return nil
}
