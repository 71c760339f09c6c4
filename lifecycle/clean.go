package lifecycle

import (
	"context"
	"strings"

	"github.com/oar-cd/bubble/domain"
)

// cleanScript prints one line: CLEAN=true|false REASONS=<reason>;<reason>;...
// It expects EXPECTED and INITIAL to be prepended as shell assignments.
const cleanScript = `CLEAN=true
REASONS=""
EXPECTED=$(echo "$EXPECTED" | tr '[:upper:]' '[:lower:]')

ITEMS=$(ls /home/user/ 2>/dev/null || true)
if [ -n "$EXPECTED" ]; then
  if [ "$(echo "$ITEMS" | tr '[:upper:]' '[:lower:]')" != "$EXPECTED" ]; then
    CLEAN=false
    REASONS="${REASONS}extra_files;"
  fi
elif [ -n "$ITEMS" ]; then
  CLEAN=false
  REASONS="${REASONS}extra_files;"
fi

if [ -n "$EXPECTED" ] && [ -d "/home/user/$EXPECTED" ]; then
  PROJECT="/home/user/$EXPECTED"
else
  PROJECT=$(ls -d /home/user/*/ 2>/dev/null | head -1)
fi

if [ -n "$PROJECT" ]; then
  if [ ! -d "$PROJECT/.git" ] || ! command -v git >/dev/null 2>&1; then
    CLEAN=false
    REASONS="${REASONS}no_git;"
  else
    cd "$PROJECT"
    if [ -n "$(git status --porcelain 2>/dev/null)" ]; then
      CLEAN=false
      REASONS="${REASONS}dirty_worktree;"
    fi
    if [ -n "$(git stash list 2>/dev/null)" ]; then
      CLEAN=false
      REASONS="${REASONS}stashes;"
    fi
    for branch in $(git for-each-ref --format='%(refname:short)' refs/heads/); do
      UPSTREAM=$(git rev-parse --verify --quiet "$branch@{upstream}" 2>/dev/null || true)
      if [ -n "$UPSTREAM" ]; then
        AHEAD=$(git rev-list --count "$UPSTREAM".."$branch" 2>/dev/null || echo 0)
        if [ "$AHEAD" -gt 0 ]; then
          CLEAN=false
          REASONS="${REASONS}unpushed:$branch;"
        fi
      elif [ -n "$INITIAL" ]; then
        if [ "$(git rev-parse "$branch" 2>/dev/null || true)" != "$INITIAL" ]; then
          CLEAN=false
          REASONS="${REASONS}unpushed:$branch;"
        fi
      else
        CLEAN=false
        REASONS="${REASONS}untracked_branch:$branch;"
      fi
    done
  fi
fi

[ -z "$REASONS" ] && REASONS="none"
echo "CLEAN=$CLEAN REASONS=$REASONS"
`

// CheckClean reports whether the bubble's container can be discarded without losing work
func (m *Manager) CheckClean(ctx context.Context, name string) (domain.CleanStatus, error) {
	b, err := m.registry.Lookup(name)
	if err != nil {
		return domain.CleanStatus{}, err
	}
	if !b.Live() {
		return domain.CleanStatus{Error: "not running"}, nil
	}
	status, err := m.runtime.Status(ctx, name)
	if err != nil {
		return domain.CleanStatus{}, err
	}
	if status != domain.ContainerStatusRunning {
		return domain.CleanStatus{Error: "not running"}, nil
	}
	return m.checkClean(ctx, b), nil
}

func (m *Manager) checkClean(ctx context.Context, b *domain.Bubble) domain.CleanStatus {
	script := "EXPECTED=" + shellQuote(b.Target.Repo) + "\n" +
		"INITIAL=" + shellQuote(b.Commit) + "\n" +
		cleanScript

	res, err := m.runtime.Exec(ctx, b.Name, []string{"su", "-", "user", "-c", script})
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "not running") || strings.Contains(msg, "not found") {
			return domain.CleanStatus{Error: "not running"}
		}
		return domain.CleanStatus{Error: "check failed"}
	}
	return parseCleanOutput(res.Stdout)
}

// parseCleanOutput reads the CLEAN=... REASONS=... line
func parseCleanOutput(output string) domain.CleanStatus {
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "CLEAN=") {
			continue
		}
		flag, rest, _ := strings.Cut(line, " ")
		status := domain.CleanStatus{Clean: flag == "CLEAN=true"}

		reasons, ok := strings.CutPrefix(rest, "REASONS=")
		if !ok || reasons == "none" {
			return status
		}
		for _, r := range strings.Split(strings.TrimSuffix(reasons, ";"), ";") {
			if r != "" {
				status.Reasons = append(status.Reasons, r)
			}
		}
		return status
	}
	return domain.CleanStatus{Error: "unexpected output"}
}

// shellQuote wraps s in single quotes for a POSIX shell
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
