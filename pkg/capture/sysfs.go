package capture

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

// MaxProbeIndex bounds the brute-force device probe.
const MaxProbeIndex = 64

// DeviceProbe reports whether the node at path is a usable capture device.
type DeviceProbe func(path string) bool

type videoNode struct {
	index int
	entry string
}

// scanVideoClass lists capture devices from a video4linux class directory.
// Nodes that fail probe are skipped silently.
func scanVideoClass(class fs.FS, devDir string, probe DeviceProbe) ([]DeviceDescriptor, error) {
	entries, err := fs.ReadDir(class, ".")
	if err != nil {
		return nil, err
	}

	var nodes []videoNode
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "video") {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimPrefix(name, "video"))
		if err != nil {
			continue
		}
		nodes = append(nodes, videoNode{index: idx, entry: name})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].index < nodes[j].index })

	var devs []DeviceDescriptor
	for _, n := range nodes {
		devPath := path.Join(devDir, n.entry)
		if !probe(devPath) {
			continue
		}
		label := fmt.Sprintf("Video Device %d", n.index)
		if raw, err := fs.ReadFile(class, n.entry+"/name"); err == nil {
			if s := strings.TrimSpace(string(raw)); s != "" {
				label = s
			}
		}
		devs = append(devs, DeviceDescriptor{ID: devPath, Name: label})
	}
	return UniqueNames(devs), nil
}

// probeVideoNodes tries devDir/video0 .. video63.
func probeVideoNodes(devDir string, probe DeviceProbe) []DeviceDescriptor {
	var devs []DeviceDescriptor
	for i := 0; i < MaxProbeIndex; i++ {
		p := path.Join(devDir, fmt.Sprintf("video%d", i))
		if probe(p) {
			devs = append(devs, DeviceDescriptor{ID: p, Name: fmt.Sprintf("Video Device %d", i)})
		}
	}
	return UniqueNames(devs)
}

// enumerateVideoNodes scans the class directory and falls back to probing
// when the scan fails or finds nothing.
func enumerateVideoNodes(class fs.FS, devDir string, probe DeviceProbe) []DeviceDescriptor {
	if class != nil {
		devs, err := scanVideoClass(class, devDir, probe)
		if err == nil && len(devs) > 0 {
			return devs
		}
	}
	return probeVideoNodes(devDir, probe)
}
