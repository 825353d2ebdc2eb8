package toolcheck

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// Info captures a tool version installed on the system.
type Info struct {
	Name    string
	Version string
}

var (
	dockerRegex = regexp.MustCompile(`(?i)version\s+(\d+\.\d+(?:\.\d+)?)`)
	gitRegex    = regexp.MustCompile(`(?i)git version\s+(\d+\.\d+(?:\.\d+)?)`)
)

// DetectDocker returns the docker client version by calling `docker --version`.
func DetectDocker() (Info, error) {
	out, err := runCommand("docker", "--version")
	if err != nil {
		return Info{}, err
	}
	match := dockerRegex.FindStringSubmatch(out)
	if len(match) < 2 {
		return Info{}, fmt.Errorf("unable to parse docker version from %q", out)
	}
	return Info{Name: "docker", Version: match[1]}, nil
}

// DetectGit returns the system git version by calling `git --version`.
func DetectGit() (Info, error) {
	out, err := runCommand("git", "--version")
	if err != nil {
		return Info{}, err
	}
	match := gitRegex.FindStringSubmatch(out)
	if len(match) < 2 {
		return Info{}, fmt.Errorf("unable to parse git version from %q", out)
	}
	return Info{Name: "git", Version: match[1]}, nil
}

func runCommand(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdin = nil
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// GitRef resolves the current branch or tag name of the repository at dir.
func GitRef(dir string) (string, error) {
	out, err := runCommand("git", "-C", dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve git ref in %q: %w", dir, err)
	}
	if out == "" || out == "HEAD" {
		return "", fmt.Errorf("repository at %q has no symbolic ref", dir)
	}
	return out, nil
}

// AtLeastMajorMinor reports whether actual's major.minor meets the min
// version. Unparsable versions report false.
func AtLeastMajorMinor(min, actual string) bool {
	minMajor, minMinor, ok := parseMajorMinor(min)
	if !ok {
		return false
	}
	actMajor, actMinor, ok := parseMajorMinor(actual)
	if !ok {
		return false
	}
	if actMajor != minMajor {
		return actMajor > minMajor
	}
	return actMinor >= minMinor
}

func parseMajorMinor(version string) (int, int, bool) {
	parts := strings.Split(strings.TrimSpace(version), ".")
	if len(parts) < 2 {
		return 0, 0, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}

// Missing reports whether executing the command returns a not-found error.
func Missing(cmdErr error) bool {
	return errors.Is(cmdErr, exec.ErrNotFound)
}
