package system

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParseError reports utility output that did not match the expected format
type ParseError struct {
	Source string // utility whose output was parsed
	Input  string // offending line or token
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s output: %s: %q", e.Source, e.Reason, e.Input)
}

// FormatSize converts bytes to human-readable format
func FormatSize(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGT"[exp])
}

// PartedDisk is the disk line of parted machine output
type PartedDisk struct {
	Path       string
	Size       int64
	Transport  string
	SectorSize int64
	Label      string
}

// PartedPartition is one partition record of parted machine output.
// Start and End are inclusive byte offsets.
type PartedPartition struct {
	Number int
	Start  int64
	End    int64
	Size   int64
	FSType string
	Flags  string
}

// PartedTable is the parsed form of `parted -ms <dev> unit B print`
type PartedTable struct {
	Disk       PartedDisk
	Partitions []PartedPartition
}

// Find returns the partition with the given number
func (t *PartedTable) Find(number int) (PartedPartition, bool) {
	for _, p := range t.Partitions {
		if p.Number == number {
			return p, true
		}
	}
	return PartedPartition{}, false
}

// ParsePartedMachine parses `parted -ms <dev> unit B print` output.
//
// Format:
//
//	BYT;
//	/path/img:31914983424B:file:512:512:msdos::;
//	1:4194304B:272629759B:268435456B:fat32::lba;
//	2:272629760B:31914983423B:31642353664B:ext4::;
func ParsePartedMachine(output string) (*PartedTable, error) {
	table := &PartedTable{}
	sawUnit := false
	sawDisk := false

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !sawUnit {
			if line != "BYT;" {
				return nil, &ParseError{Source: "parted", Input: line, Reason: "expected byte unit header"}
			}
			sawUnit = true
			continue
		}

		fields := strings.Split(strings.TrimSuffix(line, ";"), ":")
		if !sawDisk {
			disk, err := parsePartedDisk(line, fields)
			if err != nil {
				return nil, err
			}
			table.Disk = disk
			sawDisk = true
			continue
		}

		part, err := parsePartedPartition(line, fields)
		if err != nil {
			return nil, err
		}
		table.Partitions = append(table.Partitions, part)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read parted output: %w", err)
	}

	if !sawDisk {
		return nil, &ParseError{Source: "parted", Input: output, Reason: "missing disk line"}
	}
	return table, nil
}

func parsePartedDisk(line string, fields []string) (PartedDisk, error) {
	if len(fields) < 6 {
		return PartedDisk{}, &ParseError{Source: "parted", Input: line, Reason: "short disk line"}
	}
	size, err := parseByteField(fields[1])
	if err != nil {
		return PartedDisk{}, &ParseError{Source: "parted", Input: line, Reason: "bad disk size"}
	}
	sector, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return PartedDisk{}, &ParseError{Source: "parted", Input: line, Reason: "bad sector size"}
	}
	return PartedDisk{
		Path:       fields[0],
		Size:       size,
		Transport:  fields[2],
		SectorSize: sector,
		Label:      fields[5],
	}, nil
}

func parsePartedPartition(line string, fields []string) (PartedPartition, error) {
	if len(fields) < 5 {
		return PartedPartition{}, &ParseError{Source: "parted", Input: line, Reason: "short partition line"}
	}
	number, err := strconv.Atoi(fields[0])
	if err != nil || number <= 0 {
		return PartedPartition{}, &ParseError{Source: "parted", Input: line, Reason: "bad partition number"}
	}

	var values [3]int64
	for i := range values {
		v, err := parseByteField(fields[i+1])
		if err != nil {
			return PartedPartition{}, &ParseError{Source: "parted", Input: line, Reason: "bad byte offset"}
		}
		values[i] = v
	}
	if values[0] > values[1] {
		return PartedPartition{}, &ParseError{Source: "parted", Input: line, Reason: "start after end"}
	}

	part := PartedPartition{
		Number: number,
		Start:  values[0],
		End:    values[1],
		Size:   values[2],
		FSType: fields[4],
	}
	if len(fields) > 6 {
		part.Flags = fields[6]
	}
	return part, nil
}

// parseByteField parses "272629760B"
func parseByteField(s string) (int64, error) {
	if !strings.HasSuffix(s, "B") {
		return 0, fmt.Errorf("missing byte suffix")
	}
	v, err := strconv.ParseInt(strings.TrimSuffix(s, "B"), 10, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("negative value")
	}
	return v, nil
}

// ResizeReport is the parsed form of one `resize2fs -M` pass
type ResizeReport struct {
	Blocks         int64
	BlockSize      int64
	AlreadyMinimum bool
}

// Bytes returns the filesystem size the report describes
func (r ResizeReport) Bytes() int64 {
	return r.Blocks * r.BlockSize
}

var (
	resizeAlreadyRe = regexp.MustCompile(`is already (\d+) \((\d+)[kK]\) blocks long`)
	resizeNowRe     = regexp.MustCompile(`is now (\d+) \((\d+)[kK]\) blocks long`)
)

// ParseResize2fs parses resize2fs output.
//
// Formats:
//
//	The filesystem is already 1234567 (4k) blocks long.  Nothing to do!
//	The filesystem on /dev/loop0 is now 1234567 (4k) blocks long.
func ParseResize2fs(output string) (ResizeReport, error) {
	if m := resizeAlreadyRe.FindStringSubmatch(output); m != nil {
		return newResizeReport(m, true)
	}
	if m := resizeNowRe.FindStringSubmatch(output); m != nil {
		return newResizeReport(m, false)
	}
	return ResizeReport{}, &ParseError{Source: "resize2fs", Input: strings.TrimSpace(output), Reason: "no block count reported"}
}

func newResizeReport(m []string, already bool) (ResizeReport, error) {
	blocks, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return ResizeReport{}, &ParseError{Source: "resize2fs", Input: m[0], Reason: "bad block count"}
	}
	kib, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil || kib <= 0 {
		return ResizeReport{}, &ParseError{Source: "resize2fs", Input: m[0], Reason: "bad block size"}
	}
	return ResizeReport{Blocks: blocks, BlockSize: kib * 1024, AlreadyMinimum: already}, nil
}

// ParseLosetupShow extracts the device from `losetup -f --show` output
// Format: "/dev/loop0"
func ParseLosetupShow(output string) (string, error) {
	device := strings.TrimSpace(output)
	if !strings.HasPrefix(device, "/dev/loop") || strings.ContainsAny(device, " \n") {
		return "", &ParseError{Source: "losetup", Input: device, Reason: "not a loop device path"}
	}
	return device, nil
}
