package transport

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

// ErrUnsupportedPlatform is returned when no port listing strategy is
// registered for the host OS.
var ErrUnsupportedPlatform = errors.New("transport: unsupported platform")

const (
	// DescriptionMatch is the USB product substring that identifies a board.
	DescriptionMatch = "Arduino"
	// LinuxDevicePrefix is the /dev entry prefix of CDC-ACM boards.
	LinuxDevicePrefix = "ttyACM"
	// DarwinDeviceMatch is the device name substring of boards on macOS.
	DarwinDeviceMatch = "usbmodem"
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// lister enumerates candidate ports for one platform.
type lister func() ([]Port, error)

var (
	// devDir and detailedPorts are replaced in tests.
	devDir        = "/dev"
	detailedPorts = enumerator.GetDetailedPortsList

	strategies = map[string]lister{
		"linux":   linuxPorts,
		"darwin":  darwinPorts,
		"windows": windowsPorts,
	}
)

// Ports returns the candidate device ports on this host.
func Ports() ([]Port, error) {
	return portsFor(runtime.GOOS)
}

func portsFor(goos string) ([]Port, error) {
	list, ok := strategies[goos]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, goos)
	}

	ports, err := list()
	if err != nil {
		return nil, err
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
	return ports, nil
}

// linuxPorts lists /dev/ttyACM* devices. Descriptions come from the USB
// enumerator when it knows the device.
func linuxPorts() ([]Port, error) {
	entries, err := os.ReadDir(devDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", devDir, err)
	}

	descriptions := map[string]string{}
	if details, err := detailedPorts(); err == nil {
		for _, d := range details {
			descriptions[d.Name] = d.Product
		}
	}

	ports := make([]Port, 0)
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), LinuxDevicePrefix) {
			continue
		}
		name := filepath.Join(devDir, e.Name())
		ports = append(ports, Port{Name: name, Description: descriptions[name]})
	}
	return ports, nil
}

func darwinPorts() ([]Port, error) {
	return matchDetailed(func(d *enumerator.PortDetails) bool {
		return strings.Contains(d.Product, DescriptionMatch) && strings.Contains(d.Name, DarwinDeviceMatch)
	})
}

func windowsPorts() ([]Port, error) {
	return matchDetailed(func(d *enumerator.PortDetails) bool {
		return strings.Contains(d.Product, DescriptionMatch)
	})
}

func matchDetailed(match func(*enumerator.PortDetails) bool) ([]Port, error) {
	details, err := detailedPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	ports := make([]Port, 0, len(details))
	for _, d := range details {
		if match(d) {
			ports = append(ports, Port{Name: d.Name, Description: d.Product})
		}
	}
	return ports, nil
}
