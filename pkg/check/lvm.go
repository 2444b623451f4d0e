package check

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alexandremahdhaoui/labforge/internal/util/ssh"
)

// lvmState verifies logical volume presence or size.
func (r *Registry) lvmState(runner ssh.Runner, c Check) Result {
	switch c.CheckType {
	case "lv_exists":
		return r.lvExists(runner, c)
	case "lv_size":
		return r.lvSize(runner, c)
	default:
		return Result{Passed: false, Message: fmt.Sprintf(
			"unknown lvm check type: %s", c.CheckType)}
	}
}

func (r *Registry) lvExists(runner ssh.Runner, c Check) Result {
	cmd := fmt.Sprintf("lvs --noheadings -o lv_name %s",
		shellQuote(c.VolumeGroup+"/"+c.LogicalVolume))

	res, failed := r.run(runner, cmd)
	if failed != nil {
		return *failed
	}

	exists := res.ExitStatus != nil && *res.ExitStatus == 0 &&
		strings.TrimSpace(res.Stdout) != ""
	want := expectPresent(c.ExpectedState)

	if exists != want {
		return Result{Passed: false, Message: fmt.Sprintf(
			"expected logical volume %s/%s to be %s, found %s",
			c.VolumeGroup, c.LogicalVolume, presence(want), presence(exists))}
	}

	return Result{Passed: true, Message: fmt.Sprintf(
		"logical volume %s/%s is %s", c.VolumeGroup, c.LogicalVolume, presence(exists))}
}

func (r *Registry) lvSize(runner ssh.Runner, c Check) Result {
	if c.MinSizeMB == nil || c.MaxSizeMB == nil {
		return Result{Passed: false, Message: "lv_size check requires min_size_mb and max_size_mb"}
	}

	cmd := fmt.Sprintf("lvs --noheadings --units m --nosuffix -o lv_size %s",
		shellQuote(c.VolumeGroup+"/"+c.LogicalVolume))

	res, failed := r.run(runner, cmd)
	if failed != nil {
		return *failed
	}

	if res.ExitStatus == nil || *res.ExitStatus != 0 {
		return Result{Passed: false, Message: fmt.Sprintf(
			"unable to query size of %s/%s: %s",
			c.VolumeGroup, c.LogicalVolume, strings.TrimSpace(res.Stderr))}
	}

	sizeMB, err := strconv.ParseFloat(strings.TrimSpace(res.Stdout), 64)
	if err != nil {
		return Result{Passed: false, Message: fmt.Sprintf(
			"unable to parse size of %s/%s from %q",
			c.VolumeGroup, c.LogicalVolume, strings.TrimSpace(res.Stdout))}
	}

	// Inclusive band: LVM rounds sizes to full extents, so the definition
	// allows a tolerance window instead of an exact value.
	if sizeMB < *c.MinSizeMB || sizeMB > *c.MaxSizeMB {
		return Result{Passed: false, Message: fmt.Sprintf(
			"size of %s/%s is %.0fMB, expected between %.0fMB and %.0fMB",
			c.VolumeGroup, c.LogicalVolume, sizeMB, *c.MinSizeMB, *c.MaxSizeMB)}
	}

	return Result{Passed: true, Message: fmt.Sprintf(
		"size of %s/%s is %.0fMB, within [%.0fMB, %.0fMB]",
		c.VolumeGroup, c.LogicalVolume, sizeMB, *c.MinSizeMB, *c.MaxSizeMB)}
}
