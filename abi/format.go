package abi

import (
	"fmt"
	"strings"

	"github.com/fencepost/rbprof/versionreader"
)

// encodeTrace formats a StackTrace for the snapshot buffer: `;`-separated
// frames as "<method> - <shortened-path>:<line>", reversed from the
// Reader's innermost-first order so the string reads oldest (outermost)
// frame first, youngest (innermost) frame last.
func encodeTrace(trace *versionreader.StackTrace, cwd string) string {
	frames := make([]string, len(trace.Frames))
	n := len(trace.Frames)
	for i, f := range trace.Frames {
		frames[n-1-i] = formatFrame(f, cwd)
	}
	return strings.Join(frames, ";")
}

func formatFrame(f versionreader.Frame, cwd string) string {
	path := ShortenPath(f.Path, cwd)
	return fmt.Sprintf("%s - %s:%d", f.MethodName, path, f.Line)
}

// ShortenPath applies a cosmetic path-shortening heuristic in priority
// order: strip the working directory if the path is rooted under it,
// otherwise rebase onto a vendored gem's own root, otherwise strip down to
// the path relative to Ruby's own lib tree. It is purely presentational —
// not guaranteed to preserve uniqueness across frames. Exported so
// cmd/rbprof can render the same shortened paths on the terminal.
func ShortenPath(path, cwd string) string {
	if path == "" {
		return path
	}
	if cwd != "" && strings.HasPrefix(path, cwd) {
		rest := strings.TrimPrefix(path, cwd)
		return strings.TrimPrefix(rest, "/")
	}
	if idx := strings.Index(path, "/gems/"); idx >= 0 {
		return path[idx+1:]
	}
	if idx := strings.Index(path, "/ruby/"); idx >= 0 {
		after := path[idx+len("/ruby/"):]
		if slash := strings.IndexByte(after, '/'); slash >= 0 {
			return after[slash+1:]
		}
	}
	return path
}
