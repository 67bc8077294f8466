package transport

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strings"
)

const cgroupPath = "/proc/self/cgroup"

// Container runtimes put either a 64-hex-digit id or a task UUID at the end
// of each cgroup path line.
var (
	containerIDPattern = regexp.MustCompile(`[0-9a-f]{64}`)
	taskUIDPattern     = regexp.MustCompile(`[0-9a-f]{8}(-[0-9a-f]{4}){3}-[0-9a-f]{12}`)
)

// containerID extracts the container id from the process cgroup file, or
// returns "" when the process does not run in a container.
func containerID() string {
	f, err := os.Open(cgroupPath)
	if err != nil {
		return ""
	}
	defer f.Close()
	return parseContainerID(f)
}

func parseContainerID(f io.Reader) string {
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.LastIndexByte(line, ':')
		if idx < 0 {
			continue
		}
		path := line[idx+1:]
		if id := containerIDPattern.FindString(path); id != "" {
			return id
		}
		if id := taskUIDPattern.FindString(path); id != "" {
			return id
		}
	}
	return ""
}
