package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/joho/godotenv"

	"github.com/cycleflow-dev/cycleflow/internal/cycling"
	"github.com/cycleflow-dev/cycleflow/internal/digraph"
	"github.com/cycleflow-dev/cycleflow/internal/errors"
	"github.com/cycleflow-dev/cycleflow/internal/logger"
	"github.com/cycleflow-dev/cycleflow/internal/platform"
)

// defaultPlatformName is used by tasks that declare no platform.
const defaultPlatformName = "localhost"

// Default runahead limits per cycling mode, applied when the definition
// leaves the limit unset.
const (
	defaultIntegerRunahead  = "P3"
	defaultDatetimeRunahead = "P1D"
)

func build(ctx context.Context, def definition, name, baseDir string) (*Workflow, error) {
	var errs errors.ErrorList

	mode, err := cycling.ParseMode(def.Cycling)
	if err != nil {
		return nil, err
	}

	if def.InitialPoint == "" {
		return nil, fmt.Errorf("initialPoint is required")
	}
	initial, err := cycling.ParsePoint(def.InitialPoint, mode)
	if err != nil {
		return nil, fmt.Errorf("initialPoint: %w", err)
	}

	var final cycling.Point
	if def.FinalPoint != "" {
		final, err = cycling.ParsePoint(def.FinalPoint, mode)
		if err != nil {
			return nil, fmt.Errorf("finalPoint: %w", err)
		}
		if final.Before(initial) {
			return nil, fmt.Errorf("finalPoint %s is before initialPoint %s", final, initial)
		}
	}

	runaheadSpec := def.Runahead
	if runaheadSpec == "" {
		if mode == cycling.ModeDatetime {
			runaheadSpec = defaultDatetimeRunahead
		} else {
			runaheadSpec = defaultIntegerRunahead
		}
	}
	runahead, err := cycling.ParseInterval(runaheadSpec, mode)
	if err != nil {
		return nil, fmt.Errorf("runahead: %w", err)
	}

	var expire cycling.Interval
	if def.ExpireOffset != "" {
		expire, err = cycling.ParseInterval(def.ExpireOffset, mode)
		if err != nil {
			return nil, fmt.Errorf("expireOffset: %w", err)
		}
	}

	params := make(map[string][]string, len(def.Params))
	for p, values := range def.Params {
		for _, v := range values {
			params[p] = append(params[p], fmt.Sprintf("%v", v))
		}
	}

	if len(def.Graph) == 0 {
		return nil, fmt.Errorf("graph section is required")
	}
	sections := make([]digraph.SectionSpec, 0, len(def.Graph))
	recurrences := make([]string, 0, len(def.Graph))
	for r := range def.Graph {
		recurrences = append(recurrences, r)
	}
	sort.Strings(recurrences)
	for _, r := range recurrences {
		sections = append(sections, digraph.SectionSpec{Recurrence: r, Text: def.Graph[r]})
	}

	graph, err := digraph.New(digraph.Config{
		Mode:     mode,
		Initial:  initial,
		Final:    final,
		Params:   params,
		Families: def.Families,
		Sections: sections,
	})
	if err != nil {
		return nil, err
	}

	wf := &Workflow{
		Name:         name,
		Mode:         mode,
		Initial:      initial,
		Final:        final,
		Runahead:     runahead,
		ExpireOffset: expire,
		Graph:        graph,
		Families:     def.Families,
		Tasks:        map[string]*TaskDefinition{},
	}

	memberships := map[string][]string{}
	for fam, members := range def.Families {
		for _, m := range members {
			memberships[m] = append(memberships[m], fam)
		}
	}

	platformsUsed := map[string]bool{}
	for taskName, td := range def.Tasks {
		t := &TaskDefinition{
			Name:     taskName,
			Script:   td.Script,
			Platform: td.Platform,
			Env:      map[string]string{},
			Outputs:  td.Outputs,
			Families: memberships[taskName],
		}
		if t.Platform == "" {
			t.Platform = defaultPlatformName
		}
		platformsUsed[t.Platform] = true

		if td.EnvFile != "" {
			path := td.EnvFile
			if !filepath.IsAbs(path) {
				path = filepath.Join(baseDir, path)
			}
			fileEnv, err := godotenv.Read(path)
			if err != nil {
				errs.Add(fmt.Errorf("task %s: envFile: %w", taskName, err))
			}
			for k, v := range fileEnv {
				t.Env[k] = v
			}
		}
		// Inline env wins over envFile values.
		for k, v := range td.Env {
			t.Env[k] = v
		}

		wf.Tasks[taskName] = t
	}

	// Graph-only tasks run with implicit definitions on the default
	// platform.
	for _, taskName := range graph.Tasks() {
		if _, ok := wf.Tasks[taskName]; ok {
			continue
		}
		platformsUsed[defaultPlatformName] = true
		wf.Tasks[taskName] = &TaskDefinition{
			Name:     taskName,
			Platform: defaultPlatformName,
			Env:      map[string]string{},
			Families: memberships[taskName],
		}
	}

	platformNames := make([]string, 0, len(def.Platforms))
	for p := range def.Platforms {
		platformNames = append(platformNames, p)
	}
	sort.Strings(platformNames)
	for _, p := range platformNames {
		pd := def.Platforms[p]
		wf.Platforms = append(wf.Platforms, platform.Platform{
			Name:            p,
			Hosts:           pd.Hosts,
			Selection:       pd.Selection,
			InstallTarget:   pd.InstallTarget,
			RetrieveJobLogs: pd.RetrieveJobLogs,
		})
	}
	if _, ok := def.Platforms[defaultPlatformName]; !ok && platformsUsed[defaultPlatformName] {
		logger.Debug(ctx, "Adding implicit localhost platform")
		wf.Platforms = append(wf.Platforms, platform.Platform{
			Name:          defaultPlatformName,
			Hosts:         []string{"localhost"},
			InstallTarget: defaultPlatformName,
		})
	}
	defined := map[string]bool{}
	for _, p := range wf.Platforms {
		defined[p.Name] = true
	}
	for p := range platformsUsed {
		if !defined[p] {
			errs.Add(fmt.Errorf("%w: %s", platform.ErrUnknownPlatform, p))
		}
	}

	if errs.HasErrors() {
		return nil, &errs
	}
	return wf, nil
}
