// Package metadata reads tags and duration from saved audio files.
package metadata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/sirupsen/logrus"
	"github.com/tcolgate/mp3"
)

// SupportedFormats lists the extensions Probe understands
var SupportedFormats = []string{".mp3", ".m4a", ".mp4", ".flac", ".wav"}

// FileInfo is what Probe learned about a file
type FileInfo struct {
	Path        string
	Format      string
	Title       string
	Artist      string
	Album       string
	Duration    int // seconds
	Size        int64
	HasAlbumArt bool
}

// Prober extracts FileInfo from audio files
type Prober struct {
	logger logrus.FieldLogger
}

// NewProber creates a prober
func NewProber(logger logrus.FieldLogger) *Prober {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Prober{logger: logger}
}

// Probe reads tags and duration. Missing tags fall back to the file name and
// a duration that cannot be computed is reported as 0; only an unreadable
// file is an error.
func (p *Prober) Probe(path string) (*FileInfo, error) {
	start := time.Now()

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat audio file: %w", err)
	}

	info := &FileInfo{
		Path:   path,
		Format: strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
		Title:  strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Size:   stat.Size(),
	}

	duration, err := p.duration(path)
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"path":  path,
			"error": err.Error(),
		}).Warn("Failed to calculate duration, setting to 0")
	}
	info.Duration = duration

	meta, err := tag.ReadFrom(file)
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"path":  path,
			"error": err.Error(),
		}).Debug("No readable tags, using file name")
		return info, nil
	}

	if title := meta.Title(); title != "" {
		info.Title = title
	}
	info.Artist = meta.Artist()
	info.Album = meta.Album()
	info.HasAlbumArt = meta.Picture() != nil

	p.logger.WithFields(logrus.Fields{
		"path":           path,
		"title":          info.Title,
		"duration":       info.Duration,
		"processingTime": time.Since(start),
	}).Debug("Probed audio file")
	return info, nil
}

// IsAudioFile checks if a file has a supported extension
func IsAudioFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}

// ExtensionForContentType maps a response Content-Type to a file extension
func ExtensionForContentType(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	switch ct {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/x-m4a", "audio/aac", "video/mp4":
		return ".m4a"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	default:
		return ""
	}
}

func (p *Prober) duration(path string) (int, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".mp3":
		return durationMP3(path)
	case ".flac":
		return durationFLAC(path)
	case ".wav":
		return durationWAV(path)
	case ".m4a", ".mp4":
		return durationMP4(path)
	default:
		return 0, fmt.Errorf("unsupported format: %s", ext)
	}
}

// durationMP3 sums frame durations; when no frame decodes it estimates from size.
func durationMP3(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := mp3.NewDecoder(f)
	var total time.Duration
	var skipped int
	frames := 0
	for {
		var fr mp3.Frame
		if err := dec.Decode(&fr, &skipped); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if frames == 0 {
				return estimateFromSize(f, 192000)
			}
			break
		}
		total += fr.Duration()
		frames++
	}
	return int(total.Seconds() + 0.5), nil
}

// durationFLAC reads STREAMINFO
func durationFLAC(path string) (int, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	si := stream.Info
	if si.NSamples > 0 && si.SampleRate > 0 {
		secs := float64(si.NSamples) / float64(si.SampleRate)
		return int(secs + 0.5), nil
	}
	return 0, fmt.Errorf("flac stream missing sample info")
}

// durationWAV reads the PCM chunk size from the header
func durationWAV(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("invalid wav file")
	}
	d, err := dec.Duration()
	if err != nil {
		return 0, err
	}
	return int(d.Seconds() + 0.5), nil
}

// durationMP4 scans for moov/mvhd and reads timescale and duration.
func durationMP4(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	head := make([]byte, 8)
	for {
		if _, err := io.ReadFull(f, head); err != nil {
			return 0, fmt.Errorf("mvhd atom not found: %w", err)
		}
		size := int64(binary.BigEndian.Uint32(head[0:4]))
		if size < 8 {
			return 0, fmt.Errorf("invalid atom size")
		}
		if string(head[4:8]) == "moov" {
			return readMvhd(f, size-8)
		}
		if _, err := f.Seek(size-8, io.SeekCurrent); err != nil {
			return 0, err
		}
	}
}

func readMvhd(r io.ReadSeeker, limit int64) (int, error) {
	head := make([]byte, 8)
	for read := int64(0); read < limit; {
		if _, err := io.ReadFull(r, head); err != nil {
			return 0, err
		}
		size := int64(binary.BigEndian.Uint32(head[0:4]))
		if size < 8 {
			return 0, fmt.Errorf("invalid sub-atom size")
		}
		if string(head[4:8]) != "mvhd" {
			if _, err := r.Seek(size-8, io.SeekCurrent); err != nil {
				return 0, err
			}
			read += size
			continue
		}

		version := make([]byte, 4) // version + flags
		if _, err := io.ReadFull(r, version); err != nil {
			return 0, err
		}
		if version[0] == 1 {
			// 64-bit creation and modification times
			if _, err := r.Seek(16, io.SeekCurrent); err != nil {
				return 0, err
			}
			buf := make([]byte, 12)
			if _, err := io.ReadFull(r, buf); err != nil {
				return 0, err
			}
			return scaled(binary.BigEndian.Uint32(buf[0:4]), binary.BigEndian.Uint64(buf[4:12]))
		}
		if _, err := r.Seek(8, io.SeekCurrent); err != nil {
			return 0, err
		}
		buf := make([]byte, 8)
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, err
		}
		return scaled(binary.BigEndian.Uint32(buf[0:4]), uint64(binary.BigEndian.Uint32(buf[4:8])))
	}
	return 0, fmt.Errorf("mvhd atom not found")
}

func scaled(timescale uint32, units uint64) (int, error) {
	if timescale == 0 {
		return 0, fmt.Errorf("invalid timescale")
	}
	secs := float64(units) / float64(timescale)
	return int(secs + 0.5), nil
}

// estimateFromSize is the last resort when nothing decodes
func estimateFromSize(f *os.File, bitrate int64) (int, error) {
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return int(st.Size() * 8 / bitrate), nil
}
