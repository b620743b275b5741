package service

import (
	"github.com/okian/perception/internal/adapters/repository"
	"github.com/okian/perception/internal/config"
	"github.com/okian/perception/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the configuration. Defaults from config.New are used otherwise.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRegistry injects the session registry handed to the hub.
func WithRegistry(r *repository.Registry) Option {
	return func(s *Service) {
		if r != nil {
			s.registry = r
		}
	}
}
