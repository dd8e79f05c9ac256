// Package mocks provides mock implementations for testing the pixeldeck job engine.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our core interfaces.
// The generated files are committed; rerun after interface changes:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockRepo := mocks.NewMockExecutionRepository(ctrl)
//	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(execution, nil)
package mocks

// Generate mock for ExecutionRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=execution_repository_mock.go github.com/pixeldeck/pixeldeck/internal/core ExecutionRepository

// Generate mock for ImageRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=image_repository_mock.go github.com/pixeldeck/pixeldeck/internal/core ImageRepository

// Generate mock for ConfigurationRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=configuration_repository_mock.go github.com/pixeldeck/pixeldeck/internal/core ConfigurationRepository

// Generate mock for CredentialRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=credential_repository_mock.go github.com/pixeldeck/pixeldeck/internal/core CredentialRepository

// Generate mocks for the processor, credential resolver, and event publisher ports.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=engine_mock.go github.com/pixeldeck/pixeldeck/internal/core Processor,CredentialResolver,EventPublisher
