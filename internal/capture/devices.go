package capture

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultALSARoot is where the kernel exposes ALSA state
const DefaultALSARoot = "/proc/asound"

// Device describes a capture-capable audio input
type Device struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	ID       string `json:"id"` // ALSA hw:card,device
	Channels int    `json:"channels"`
}

// ListDevices enumerates capture devices known to ALSA
func ListDevices() ([]Device, error) {
	return ListDevicesFrom(DefaultALSARoot)
}

// ListDevicesFrom enumerates capture devices from an ALSA proc tree rooted at root.
// Lines of root/pcm look like:
//
//	00-00: ALC3246 Analog : ALC3246 Analog : playback 1 : capture 1
func ListDevicesFrom(root string) ([]Device, error) {
	f, err := os.Open(filepath.Join(root, "pcm"))
	if err != nil {
		return nil, fmt.Errorf("failed to read ALSA device list: %w", err)
	}
	defer f.Close()

	devices := make([]Device, 0)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Split(line, " : ")
		head := strings.SplitN(parts[0], ": ", 2)
		if len(head) != 2 {
			continue
		}

		card, dev, ok := parsePCMID(head[0])
		if !ok {
			continue
		}

		capture := false
		for _, p := range parts[1:] {
			if strings.HasPrefix(strings.TrimSpace(p), "capture") {
				capture = true
				break
			}
		}
		if !capture {
			continue
		}

		devices = append(devices, Device{
			Index:    len(devices),
			Name:     strings.TrimSpace(head[1]),
			ID:       fmt.Sprintf("hw:%d,%d", card, dev),
			Channels: captureChannels(root, card, dev),
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ALSA device list: %w", err)
	}

	return devices, nil
}

func parsePCMID(s string) (int, int, bool) {
	ids := strings.SplitN(s, "-", 2)
	if len(ids) != 2 {
		return 0, 0, false
	}
	card, err := strconv.Atoi(ids[0])
	if err != nil {
		return 0, 0, false
	}
	dev, err := strconv.Atoi(ids[1])
	if err != nil {
		return 0, 0, false
	}
	return card, dev, true
}

// captureChannels reads the channel count from cardN/streamM, which USB audio exposes.
// Devices without it report 1.
func captureChannels(root string, card, dev int) int {
	data, err := os.ReadFile(filepath.Join(root, fmt.Sprintf("card%d", card), fmt.Sprintf("stream%d", dev)))
	if err != nil {
		return 1
	}

	inCapture := false
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(line, " ") && strings.HasSuffix(trimmed, ":") {
			inCapture = trimmed == "Capture:"
			continue
		}
		if inCapture && strings.HasPrefix(trimmed, "Channels:") {
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(trimmed, "Channels:")))
			if err == nil && n > 0 {
				return n
			}
		}
	}
	return 1
}
