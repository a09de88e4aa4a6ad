// Package templates loads the WAV-file command/noise template bank from
// disk, maps filenames to logical commands via an ordered substring
// table, and holds templates added during calibration in memory; nothing
// is written back to disk.
package templates

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
)

// CommandMapping is the ordered substring->command table filenames are
// matched against; order matters because a more specific substring must
// be checked before a more general one that could also match. The
// substrings mirror the spoken-word recordings the shipped template
// bank ships with (transliterated command names alongside their
// logical English form).
var CommandMapping = []struct {
	Substring string
	Command   string
}{
	{"start", "START"},
	{"開始", "START"},
	{"pause", "PAUSE"},
	{"暫停", "PAUSE"},
	{"jump", "JUMP"},
	{"跳", "JUMP"},
	{"magnet", "MAGNET"},
	{"磁鐵", "MAGNET"},
	{"invert", "INVERT"},
	{"反轉", "INVERT"},
}

// NoiseSubstrings marks a filename as a noise (non-command) template.
var NoiseSubstrings = []string{"noise", "噪音"}

// WAV loads a mono WAV file and returns its samples normalized to
// [-1.0, 1.0] float32, the same conversion the upstream assistant applies
// to its Whisper input audio.
func WAV(path string) ([]float32, int, error) {
	clean := filepath.Clean(path)
	file, err := os.Open(clean)
	if err != nil {
		return nil, 0, fmt.Errorf("open wav %s: %w", path, err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if decoder == nil {
		return nil, 0, fmt.Errorf("create wav decoder for %s", path)
	}
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav %s: %w", path, err)
	}

	samples := make([]float32, buf.NumFrames())
	maxVal := float32(int(1) << uint(buf.SourceBitDepth-1))
	if maxVal == 0 {
		maxVal = 32768
	}
	for i := 0; i < buf.NumFrames(); i++ {
		samples[i] = float32(buf.Data[i]) / maxVal
	}
	return samples, int(decoder.SampleRate), nil
}

// classify maps a filename stem to a command, or to the noise class, or
// to ("", false) when no entry in the mapping matches.
func classify(filename string) (command string, isNoise bool, matched bool) {
	lower := strings.ToLower(filename)
	for _, n := range NoiseSubstrings {
		if strings.Contains(lower, n) {
			return "", true, true
		}
	}
	for _, m := range CommandMapping {
		if strings.Contains(lower, m.Substring) {
			return m.Command, false, true
		}
	}
	return "", false, false
}

// isAudioFile reports whether path has a recognized audio extension,
// following the original loader's glob of "*.[mw][4a][av]" (m4a/wav).
func isAudioFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".wav" || ext == ".m4a"
}

// discoveredFile is one audio file found while walking the templates
// directory, already classified.
type discoveredFile struct {
	path    string
	command string
	isNoise bool
}

// Discover walks dir the way the original template loader does: a
// "cmd_templates" subdirectory first, then top-level files, then a
// "noise" subdirectory, then any remaining speaker subdirectories.
func Discover(dir string) ([]discoveredFile, error) {
	var found []discoveredFile

	addClassified := func(path string) error {
		entries, err := os.ReadDir(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		for _, e := range entries {
			if e.IsDir() || !isAudioFile(e.Name()) {
				continue
			}
			cmd, noise, matched := classify(e.Name())
			if !matched {
				continue
			}
			found = append(found, discoveredFile{
				path:    filepath.Join(path, e.Name()),
				command: cmd,
				isNoise: noise,
			})
		}
		return nil
	}

	// noise/ is authoritative: every audio file in it is a noise
	// template regardless of filename.
	addAllAsNoise := func(path string) error {
		entries, err := os.ReadDir(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		for _, e := range entries {
			if e.IsDir() || !isAudioFile(e.Name()) {
				continue
			}
			found = append(found, discoveredFile{
				path:    filepath.Join(path, e.Name()),
				isNoise: true,
			})
		}
		return nil
	}

	if err := addClassified(filepath.Join(dir, "cmd_templates")); err != nil {
		return nil, fmt.Errorf("scan cmd_templates: %w", err)
	}
	if err := addClassified(dir); err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	if err := addAllAsNoise(filepath.Join(dir, "noise")); err != nil {
		return nil, fmt.Errorf("scan noise dir: %w", err)
	}

	skipDirs := map[string]bool{
		"cmd_templates": true, "noise": true, "features": true,
		"raw": true, "record": true, "src": true, "temp": true,
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return found, nil
		}
		return nil, fmt.Errorf("read templates dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() || skipDirs[e.Name()] || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := addClassified(filepath.Join(dir, e.Name())); err != nil {
			return nil, fmt.Errorf("scan speaker dir %s: %w", e.Name(), err)
		}
	}

	return found, nil
}
