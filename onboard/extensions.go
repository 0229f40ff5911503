package onboard

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"time"

	"github.com/ruteri/runtime-init/bigip"
	"github.com/ruteri/runtime-init/cryptoutils"
	"github.com/ruteri/runtime-init/interfaces"
	"github.com/ruteri/runtime-init/retry"
)

// installExtensions installs every extension package in order:
// download, verify when a hash is known, upload, install, then wait for the
// extension's info endpoint. Extensions already installed at the requested
// version are skipped.
func (o *Orchestrator) installExtensions(ctx context.Context) error {
	specs := o.doc.ExtensionPackages.InstallOperations
	if len(specs) == 0 {
		return nil
	}

	if loc := o.doc.Controls.ExtensionMetadataURL; loc != "" && o.cfg.Metadata == nil {
		m, err := retry.Do(ctx, o.networkPolicy.With(o.log, "extension metadata"), func(ctx context.Context) (*ExtensionMetadata, error) {
			return LoadExtensionMetadata(ctx, o.resolver, loc, tlsOptions(nil))
		})
		if err != nil {
			return fail(PhaseExtensionPackages, "extension metadata", err)
		}
		o.metadata = m
	}

	installed, err := retry.Do(ctx, o.networkPolicy.With(o.log, "query installed packages"), o.mgmt.InstalledPackages)
	if err != nil {
		return fail(PhaseExtensionPackages, "query installed packages", err)
	}

	delay := time.Duration(o.doc.Controls.ExtensionInstallDelayInMs) * time.Millisecond
	for i, spec := range specs {
		name := spec.ExtensionType
		if spec.ExtensionVersion != "" {
			name += "@" + spec.ExtensionVersion
		}

		if i > 0 {
			if err := sleep(ctx, delay); err != nil {
				return fail(PhaseExtensionPackages, name, err)
			}
		}

		if err := o.installExtension(ctx, spec, installed); err != nil {
			return fail(PhaseExtensionPackages, name, err)
		}
	}
	return nil
}

func (o *Orchestrator) installExtension(ctx context.Context, spec interfaces.ExtensionInstallSpec, installed []bigip.Package) error {
	component, known := o.metadata.Component(spec.ExtensionType)

	packageURL, err := o.render(spec.ExtensionURL)
	if err != nil {
		return err
	}
	hash := spec.ExtensionHash
	if packageURL == "" && known {
		release, ok := component.Versions[spec.ExtensionVersion]
		if ok {
			packageURL = release.DownloadURL
			if hash == "" {
				hash = release.Hash
			}
		}
	}
	if packageURL == "" {
		return fmt.Errorf("no download location for %s version %q", spec.ExtensionType, spec.ExtensionVersion)
	}

	infoPath := spec.ExtensionVerificationEndpoint
	if infoPath == "" && known {
		infoPath = component.Endpoints.Info
	}

	if known && spec.ExtensionVersion != "" {
		if p, ok := bigip.FindPackage(installed, component.PackageName); ok && p.Version == spec.ExtensionVersion {
			o.log.Info("Extension already installed, skipping",
				slog.String("extension", spec.ExtensionType),
				slog.String("version", p.Version))
			return nil
		}
	}

	fileName := path.Base(packageURL)
	if u, err := url.Parse(packageURL); err == nil && u.Path != "" {
		fileName = path.Base(u.Path)
	}
	local := filepath.Join(o.downloadDir, fileName)

	policy := o.networkPolicy.With(o.log, "download "+fileName)
	if err := retry.Run(ctx, policy, func(ctx context.Context) error {
		return o.resolver.DownloadToFile(ctx, packageURL, local, tlsOptions(spec.VerifyTLS))
	}); err != nil {
		return err
	}

	if err := o.verifyPackage(spec, local, hash); err != nil {
		return err
	}

	remote, err := retry.Do(ctx, o.networkPolicy.With(o.log, "upload "+fileName), func(ctx context.Context) (string, error) {
		return o.mgmt.UploadFile(ctx, local)
	})
	if err != nil {
		return err
	}

	// A failed install task is not retried: a partial install must be inspected.
	if err := o.mgmt.InstallPackage(ctx, remote); err != nil {
		return err
	}

	if infoPath != "" {
		if _, err := o.mgmt.AwaitEndpoint(ctx, infoPath); err != nil {
			return fmt.Errorf("extension did not become available at %s: %w", infoPath, err)
		}
	}

	o.log.Info("Installed extension",
		slog.String("extension", spec.ExtensionType),
		slog.String("version", spec.ExtensionVersion),
		slog.String("package", fileName))
	return nil
}

func (o *Orchestrator) verifyPackage(spec interfaces.ExtensionInstallSpec, local, hash string) error {
	if hash == "" {
		if o.doc.Controls.RequireExtensionHash {
			return fmt.Errorf("%w: no extensionHash for %s and requireExtensionHash is set", interfaces.ErrHashMismatch, spec.ExtensionType)
		}
		o.log.Warn("Installing extension without hash verification", slog.String("extension", spec.ExtensionType))
		return nil
	}

	ok, err := cryptoutils.VerifyFileHash(local, hash)
	if err != nil {
		return fmt.Errorf("failed to verify %s: %w", filepath.Base(local), err)
	}
	if !ok {
		return fmt.Errorf("%w: %s does not match extensionHash", interfaces.ErrHashMismatch, filepath.Base(local))
	}
	o.log.Debug("Verified extension package", slog.String("extension", spec.ExtensionType))
	return nil
}
