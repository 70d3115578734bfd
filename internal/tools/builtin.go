package tools

// Config bundles the collaborator settings for every built-in category.
type Config struct {
	FS          FSConfig
	Code        CodeConfig
	HTTP        HTTPConfig
	SQL         SQLConfig
	Control     ControlConfig
	Transform   TransformConfig
	Integration IntegrationClient
}

// RegisterBuiltins registers all built-in tools in the given registry.
func RegisterBuiltins(reg *Registry, cfg Config) error {
	control, err := ControlFlowHandlers(cfg.Control)
	if err != nil {
		return err
	}

	all := make([]Handler, 0, 32)
	all = append(all, FilesystemHandlers(cfg.FS)...)
	all = append(all, CodeExecutionHandlers(cfg.Code)...)
	all = append(all, NetworkHandlers(cfg.HTTP)...)
	all = append(all, DatabaseHandlers(cfg.SQL)...)
	all = append(all, control...)
	all = append(all, DataTransformHandlers(cfg.Transform)...)
	all = append(all, PlatformHandlers(cfg.Integration)...)

	for _, h := range all {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}
