package main

import (
	"os"

	"go.uber.org/zap"

	"skillgate/internal/activation"
	"skillgate/internal/config"
	"skillgate/internal/hooks"
	"skillgate/internal/journal"
	"skillgate/internal/session"
)

// runtime bundles the loaded configuration and stores behind one
// workspace root. Commands pull only the pieces they need from it.
type runtime struct {
	workspace string
	settings  *config.Settings
	skills    *config.SkillsFile
	profiles  *config.ProfilesFile
	sessions  *session.Store
	journal   *journal.Journal
}

// loadRuntime loads settings, both YAML schemas, the session store and
// the decision journal for the resolved workspace. A broken journal
// degrades to nil (journalling is best-effort); anything else is fatal.
func loadRuntime() (*runtime, error) {
	ws, err := resolveWorkspace()
	if err != nil {
		return nil, err
	}

	settings, err := config.LoadSettings(config.SettingsPath(ws))
	if err != nil {
		return nil, err
	}
	skills, err := config.LoadSkills(config.SkillsPath(ws))
	if err != nil {
		return nil, err
	}
	profiles, err := config.LoadProfiles(config.ProfilesPath(ws))
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		workspace: ws,
		settings:  settings,
		skills:    skills,
		profiles:  profiles,
		sessions:  session.NewStore(ws),
	}
	if j, err := journal.Open(ws); err != nil {
		logger.Warn("decision journal unavailable", zap.Error(err))
	} else {
		rt.journal = j
	}
	return rt, nil
}

func (rt *runtime) close() {
	if rt.journal != nil {
		_ = rt.journal.Close()
	}
}

func (rt *runtime) hook() *hooks.Hook {
	return hooks.New(hooks.Options{
		Workspace: rt.workspace,
		Skills:    rt.skills,
		Profiles:  rt.profiles,
		Store:     rt.sessions,
		Journal:   rt.journal,
	})
}

func (rt *runtime) activator() *activation.Activator {
	return activation.New(activation.Options{
		Skills:   rt.skills,
		Profiles: rt.profiles,
		Store:    rt.sessions,
		Journal:  rt.journal,
	})
}

// configured reports whether the workspace carries a .skillgate
// directory. Hook commands in unconfigured workspaces allow everything:
// a globally wired hook must not gate repositories that never opted in.
func configured(ws string) bool {
	_, err := os.Stat(config.Dir(ws))
	return err == nil
}
