package audiosrc

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Capabilities describes what an ALSA capture card supports, detected
// non-invasively by reading /proc/asound rather than opening the device.
type Capabilities struct {
	CardNumber  int
	DeviceName  string
	Formats     []string
	SampleRates []int
	Channels    []int
	MinRate     int
	MaxRate     int
}

// DetectCapabilities reads device capabilities from /proc/asound/cardN/stream0
// without opening the device, so detection never interrupts an active stream.
func DetectCapabilities(asoundPath string, cardNumber int) (*Capabilities, error) {
	cardDir := filepath.Join(asoundPath, fmt.Sprintf("card%d", cardNumber))
	if _, err := os.Stat(cardDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("card %d not found", cardNumber)
	}

	caps := &Capabilities{CardNumber: cardNumber}

	idPath := filepath.Join(cardDir, "id")
	if data, err := os.ReadFile(idPath); err == nil {
		caps.DeviceName = strings.TrimSpace(string(data))
	}

	stream0 := filepath.Join(cardDir, "stream0")
	if err := parseStreamFile(stream0, caps); err != nil {
		caps.Formats = []string{"S16_LE"}
		caps.SampleRates = []int{48000}
		caps.Channels = []int{1, 2}
		caps.MinRate, caps.MaxRate = 48000, 48000
	}

	if len(caps.SampleRates) > 0 && caps.MinRate == 0 {
		caps.MinRate = caps.SampleRates[0]
		caps.MaxRate = caps.SampleRates[len(caps.SampleRates)-1]
	}

	return caps, nil
}

func parseStreamFile(path string, caps *Capabilities) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	formatRe := regexp.MustCompile(`Format:\s+(\S+)`)
	channelsRe := regexp.MustCompile(`Channels:\s+(\d+)`)
	ratesRe := regexp.MustCompile(`Rates:\s+(.+)`)

	var formats []string
	var rates, channels []int

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if m := formatRe.FindStringSubmatch(line); m != nil && !containsStr(formats, m[1]) {
			formats = append(formats, m[1])
		}
		if m := channelsRe.FindStringSubmatch(line); m != nil {
			if ch, err := strconv.Atoi(m[1]); err == nil && !containsInt(channels, ch) {
				channels = append(channels, ch)
			}
		}
		if m := ratesRe.FindStringSubmatch(line); m != nil {
			for _, r := range strings.Split(m[1], ",") {
				r = strings.TrimSpace(r)
				if rate, err := strconv.Atoi(r); err == nil && !containsInt(rates, rate) {
					rates = append(rates, rate)
				}
			}
		}
	}

	if len(formats) == 0 {
		return fmt.Errorf("no capture capabilities found")
	}

	sort.Ints(rates)
	sort.Ints(channels)
	caps.Formats = formats
	caps.SampleRates = rates
	caps.Channels = channels
	return scanner.Err()
}

func containsStr(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
