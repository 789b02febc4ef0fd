// Package compose turns recipient records into personalized messages and
// attaches the files of a directory to each of them.
package compose

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/shineum/smtp-mailmerge/internal/email"
	"github.com/shineum/smtp-mailmerge/internal/recipient"
	"github.com/shineum/smtp-mailmerge/internal/runerr"
)

// Compose builds one message per record, in record order.
func Compose(sender string, records []recipient.Record) []*email.Email {
	domain := email.Domain(sender)
	if domain == "" {
		domain = "localhost"
	}

	msgs := make([]*email.Email, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, &email.Email{
			From:          sender,
			To:            r.Email,
			RecipientName: r.Name,
			Subject:       r.Subject,
			TextBody:      r.Body,
			MessageID:     fmt.Sprintf("<%s@%s>", uuid.NewString(), domain),
		})
	}
	return msgs
}

// Attach adds every regular file in dir to every message and returns the
// number of files found. Symbolic links to regular files count as files. A
// missing or empty directory is reported and leaves the messages untouched.
// Messages that already carry a file of the same name are skipped, so
// calling Attach twice is harmless.
func Attach(msgs []*email.Email, dir string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	files, found, err := load(dir, logger)
	if err != nil {
		return 0, err
	}
	if !found {
		logger.Info(fmt.Sprintf("The %q directory does not exist.", dir))
		return 0, nil
	}
	if len(files) == 0 {
		logger.Info(fmt.Sprintf("There are no files in the %q directory.", dir))
		return 0, nil
	}

	for _, msg := range msgs {
		for _, att := range files {
			if msg.HasAttachment(att.Filename) {
				continue
			}
			msg.Attachments = append(msg.Attachments, att)
		}
	}

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Filename
	}
	logger.Info("attachments added", "dir", dir, "files", names, "messages", len(msgs))
	return len(files), nil
}

// load reads the regular files of dir in name order (os.ReadDir sorts).
// found is false when dir does not exist.
func load(dir string, logger *slog.Logger) (files []email.Attachment, found bool, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, runerr.Fatalf(runerr.KindAttachment, err, "failed to list attachments directory %s", dir)
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		regular := entry.Type().IsRegular()
		if entry.Type()&fs.ModeSymlink != 0 {
			if info, err := os.Stat(path); err == nil {
				regular = info.Mode().IsRegular()
			}
		}
		if !regular {
			logger.Debug("skipping attachment entry", "path", path, "mode", entry.Type().String())
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil, true, runerr.Fatalf(runerr.KindAttachment, err, "failed to read attachment %s", path)
		}

		files = append(files, email.Attachment{
			Filename:    entry.Name(),
			ContentType: ContentType(entry.Name(), content),
			Content:     content,
		})
	}
	return files, true, nil
}

// ContentType guesses the MIME type from the file extension, falling back
// to content sniffing. The result is never empty.
func ContentType(filename string, content []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return ct
	}
	return mimetype.Detect(content).String()
}
