// Package render turns actions, action results and directory listings
// into human-readable reports, fetching referenced objects on demand.
package render

import (
	"context"
	"fmt"
	"io"

	remoteexecution "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"

	"remoteclient/internal/action"
	"remoteclient/internal/cas"
	"remoteclient/internal/shellquote"
	"remoteclient/internal/tree"
)

// ListTruncationMarker is emitted when a list section exceeds its
// display limit.
const ListTruncationMarker = " ... (too many to list, some omitted)"

const noneMarker = "(none)"

// Presenter renders reports about cached actions to a writer. The limit
// passed to each method bounds list-like sections of the report.
type Presenter struct {
	cache cas.Cache
	out   io.Writer
}

// New creates a Presenter writing to out.
func New(cache cas.Cache, out io.Writer) *Presenter {
	return &Presenter{cache: cache, out: out}
}

// printList prints up to limit entries, a (none) marker when empty and
// a truncation marker when entries were omitted.
func (p *Presenter) printList(list []string, limit int) {
	if len(list) == 0 {
		fmt.Fprintln(p.out, noneMarker)
		return
	}
	for i, entry := range list {
		if i >= limit {
			break
		}
		fmt.Fprintln(p.out, entry)
	}
	if len(list) > limit {
		fmt.Fprintln(p.out, ListTruncationMarker)
	}
}

// PrintAction renders an action: its command as a runnable shell form,
// a bounded listing of its input tree, and its declared outputs and
// platform.
func (p *Presenter) PrintAction(ctx context.Context, act *action.Action, limit int) error {
	cmd, err := cas.FetchCommand(ctx, p.cache, act.CommandDigest)
	if err != nil {
		return err
	}
	fmt.Fprintf(p.out, "Command [digest: %s]:\n", act.CommandDigest)
	shellquote.WriteCommand(p.out, cmd)

	inputTree, err := p.cache.FetchTree(ctx, act.InputRootDigest)
	if err != nil {
		return fmt.Errorf("fetching input root %s: %w", act.InputRootDigest, err)
	}
	fmt.Fprintf(p.out, "\nInput files [total: %d, root Directory digest: %s]:\n",
		tree.NumFiles(inputTree), act.InputRootDigest)
	if err := tree.ListTree(p.out, "", inputTree, limit); err != nil {
		return err
	}

	fmt.Fprintln(p.out, "\nOutput files:")
	p.printList(act.OutputFiles, limit)

	fmt.Fprintln(p.out, "\nOutput directories:")
	p.printList(act.OutputDirectories, limit)

	fmt.Fprintln(p.out, "\nPlatform:")
	if len(act.Platform) == 0 {
		fmt.Fprintln(p.out, noneMarker)
	} else {
		for _, prop := range act.Platform {
			fmt.Fprintf(p.out, "%s=%s\n", prop.Name, prop.Value)
		}
	}
	return nil
}

// printOutputFile prints one output file, with raw contents only when
// the caller permits.
func (p *Presenter) printOutputFile(file action.OutputFile, showRaw bool) {
	var content string
	switch {
	case !file.Content.Inline():
		content = "Content digest: " + file.Content.Digest.String()
	case showRaw:
		content = fmt.Sprintf("Raw contents: '%s', size (bytes): %d",
			file.Content.Raw, len(file.Content.Raw))
	default:
		content = "Raw contents (not printed)"
	}
	fmt.Fprintf(p.out, "%s [%s, executable: %t]\n", file.Path, content, file.IsExecutable)
}

// printPayload prints payload content, fetching it when referenced by
// digest.
func (p *Presenter) printPayload(ctx context.Context, payload action.Payload, purpose string) error {
	data := payload.Raw
	if !payload.Inline() {
		var err error
		data, err = p.cache.FetchBlob(ctx, *payload.Digest)
		if err != nil {
			return fmt.Errorf("fetching %s %s: %w", purpose, payload.Digest, err)
		}
	}
	fmt.Fprintln(p.out, string(data))
	return nil
}

// PrintActionResult renders an action result: output files and
// directories, the exit code, and the stderr/stdout buffers. Sections
// print in order; a failing section aborts the remainder.
func (p *Presenter) PrintActionResult(ctx context.Context, result *action.ActionResult, limit int, showRaw bool) error {
	fmt.Fprintln(p.out, "Output files:")
	for i, file := range result.OutputFiles {
		if i >= limit {
			break
		}
		p.printOutputFile(file, showRaw)
	}
	if len(result.OutputFiles) > limit {
		fmt.Fprintln(p.out, ListTruncationMarker)
	} else if len(result.OutputFiles) == 0 {
		fmt.Fprintln(p.out, noneMarker)
	}

	fmt.Fprintln(p.out, "\nOutput directories:")
	if len(result.OutputDirectories) == 0 {
		fmt.Fprintln(p.out, noneMarker)
	} else {
		for _, dir := range result.OutputDirectories {
			if err := p.ListOutputDirectory(ctx, dir, limit); err != nil {
				return err
			}
		}
	}

	fmt.Fprintf(p.out, "\nExit code: %d\n", result.ExitCode)

	fmt.Fprintln(p.out, "\nStderr buffer:")
	if err := p.printPayload(ctx, result.Stderr, "stderr"); err != nil {
		return err
	}

	fmt.Fprintln(p.out, "\nStdout buffer:")
	return p.printPayload(ctx, result.Stdout, "stdout")
}

// ListOutputDirectory fetches the Tree an output directory references
// and lists it with the given budget.
func (p *Presenter) ListOutputDirectory(ctx context.Context, dir action.OutputDirectory, limit int) error {
	t, err := cas.FetchTreeBlob(ctx, p.cache, dir.TreeDigest)
	if err != nil {
		return fmt.Errorf("listing output directory %s: %w", dir.Path, err)
	}
	fmt.Fprintf(p.out, "OutputDirectory rooted at %s:\n", dir.Path)
	return tree.ListTree(p.out, "", t, limit)
}

// ListTree lists an already-fetched tree.
func (p *Presenter) ListTree(t *remoteexecution.Tree, limit int) error {
	return tree.ListTree(p.out, "", t, limit)
}
