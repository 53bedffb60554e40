package spaceInformations

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

// Destination describes where a shredding run writes to.
type Destination struct {
	Path        string
	Device      string // Backing device of the filesystem, or Path for block devices
	MountPoint  string // Empty for block devices and unknown mounts
	BlockDevice bool
	Capacity    uint64 // Bytes the run can write; 0 when unknown
}

// GetDeviceAndMountPoint finds the mounted partition that holds path. Path
// may not exist yet, in which case its closest existing parent is used.
func GetDeviceAndMountPoint(path string) (string, string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", err
	}

	anchor, err := existingAncestor(abs)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", err, path)
	}
	if anchor == string(os.PathSeparator) && abs != anchor {
		return "", "", fmt.Errorf("path does not exist beyond root: %s", path)
	}

	partitions, err := disk.Partitions(true)
	if err != nil {
		return "", "", err
	}

	// Nested mounts win over their parents.
	var best disk.PartitionStat
	for _, p := range partitions {
		if contains(anchor, p.Mountpoint) && len(p.Mountpoint) > len(best.Mountpoint) {
			best = p
		}
	}
	if best.Mountpoint == "" {
		return "", "", fmt.Errorf("mount point not found for path: %s", path)
	}

	return best.Mountpoint, best.Device, nil
}

// existingAncestor walks up from abs to the first entry that exists and
// returns it with symlinks resolved.
func existingAncestor(abs string) (string, error) {
	for dir := abs; ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return resolved, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
		if filepath.Dir(dir) == dir {
			return "", errors.New("path does not exist")
		}
	}
}

// contains reports whether path lies on or below mountpoint.
func contains(path, mountpoint string) bool {
	if mountpoint == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(mountpoint), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)))
}

// blockDeviceSize returns the size of a block device by seeking to its end.
func blockDeviceSize(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	return uint64(size), nil
}

// Describe inspects path. For block devices the capacity is the device
// size beyond skip; for regular files it is the free space of the
// containing filesystem plus whatever the existing file holds past skip.
func Describe(path string, skip int64) (Destination, error) {
	d := Destination{Path: path}

	info, err := os.Stat(path)
	switch {
	case err == nil && info.Mode()&os.ModeDevice != 0 && info.Mode()&os.ModeCharDevice == 0:
		d.BlockDevice = true
		d.Device = path
		size, err := blockDeviceSize(path)
		if err != nil {
			return d, fmt.Errorf("failed to size block device %s: %w", path, err)
		}
		if size > uint64(skip) {
			d.Capacity = size - uint64(skip)
		}
		return d, nil

	case err == nil && !info.Mode().IsRegular():
		// Character devices and pipes have no meaningful capacity.
		return d, nil

	case err != nil && !os.IsNotExist(err):
		return d, err
	}

	d.MountPoint, d.Device, err = GetDeviceAndMountPoint(path)
	if err != nil {
		return d, err
	}

	usage, err := disk.Usage(d.MountPoint)
	if err != nil {
		return d, fmt.Errorf("failed to read usage of %s: %w", d.MountPoint, err)
	}
	d.Capacity = usage.Free
	if info != nil && info.Size() > skip {
		d.Capacity += uint64(info.Size() - skip)
	}

	return d, nil
}

// DisplayDestination logs what Describe found.
func DisplayDestination(logger logrus.FieldLogger, d Destination) {
	fields := logrus.Fields{
		"path":   d.Path,
		"device": d.Device,
	}
	if d.MountPoint != "" {
		fields["mount_point"] = d.MountPoint
	}
	if d.Capacity > 0 {
		fields["capacity"] = humanize.IBytes(d.Capacity)
	}
	if d.BlockDevice {
		logger.WithFields(fields).Info("Destination is a block device")
		return
	}
	logger.WithFields(fields).Info("Destination information")
}
