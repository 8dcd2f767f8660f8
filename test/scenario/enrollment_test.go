//go:build scenario

package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2" //revive:disable:dot-imports
	. "github.com/onsi/gomega"    //revive:disable:dot-imports

	"github.com/marmos91/joincheck/pkg/enrollment"
	"github.com/marmos91/joincheck/pkg/openstack"
	"github.com/marmos91/joincheck/pkg/remote"
)

const compactServices = `{"HTTP": ["ctlplane", "internalapi"]}`

// enrollmentLifecycle boots a guest built by request and checks novajoin
// enrolls it with wantManaged managed services. It then deletes the guest
// and checks the host is removed again.
func enrollmentLifecycle(wantManaged int, request func(name, domain string) openstack.BootRequest) {
	var (
		name     string
		fqdn     string
		serverID string
		metadata map[string]string
		svcs     enrollment.Services
	)

	BeforeAll(func(ctx SpecContext) {
		name = "joincheck-" + uuid.NewString()[:8]
		fqdn = name + "." + session.Host().Domain

		req := request(name, session.Host().Domain)
		if len(req.ImageProperties) > 0 {
			image := cfg.OpenStack.Image
			keys := make([]string, 0, len(req.ImageProperties))
			for k := range req.ImageProperties {
				keys = append(keys, k)
			}
			DeferCleanup(func(ctx context.Context) {
				_ = compute.RemoveImageProperties(ctx, image, keys...)
			})
		}

		server, err := compute.Boot(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		serverID = server.ID

		DeferCleanup(func(ctx context.Context) {
			if serverID != "" {
				_ = compute.Delete(ctx, serverID)
			}
		})

		// Resolve the metadata the way "verify enrolled" does.
		metadata, err = compute.Metadata(ctx, serverID)
		Expect(err).NotTo(HaveOccurred())
		props, err := compute.ImageProperties(ctx, server)
		Expect(err).NotTo(HaveOccurred())
		metadata = enrollment.WithImageProperties(metadata, props)
		Expect(enrollment.EnrollRequested(metadata)).To(BeTrue())
	}, NodeTimeout(timeout))

	It("registers the host with a keytab and its services", func(ctx SpecContext) {
		var err error
		svcs, err = verifier.VerifyEnrolled(ctx, fqdn, metadata)
		Expect(err).NotTo(HaveOccurred())
		Expect(svcs.Compact).To(HaveLen(2))
		Expect(svcs.Managed).To(HaveLen(wantManaged))
	}, NodeTimeout(timeout+time.Minute))

	It("is an IPA client with a tracked certificate", func(ctx SpecContext) {
		if ssh == nil {
			Skip("ssh.key_path not configured")
		}
		server, err := compute.Server(ctx, serverID)
		Expect(err).NotTo(HaveOccurred())
		addr, err := compute.Address(server, "")
		Expect(err).NotTo(HaveOccurred())

		Eventually(func(ctx context.Context) (bool, error) {
			return remote.HostIsIPAClient(ctx, ssh, addr)
		}).WithContext(ctx).WithPolling(interval).WithTimeout(5 * time.Minute).Should(BeTrue())

		tracked, err := remote.CertTracked(ctx, ssh, addr, fqdn)
		Expect(err).NotTo(HaveOccurred())
		Expect(tracked).To(BeTrue(), fmt.Sprintf("certmonger does not track %s", fqdn))
	}, NodeTimeout(6*time.Minute))

	It("removes the host and its services after deletion", func(ctx SpecContext) {
		serial, err := client.GetServiceCert(ctx, svcs.Compact[0])
		Expect(err).NotTo(HaveOccurred())

		Expect(compute.Delete(ctx, serverID)).To(Succeed())
		serverID = ""

		Expect(verifier.VerifyRemoved(ctx, fqdn, svcs)).To(Succeed())
		if serial != "" {
			Expect(verifier.WaitCertRevoked(ctx, serial)).To(Succeed())
		}
	}, NodeTimeout(2*timeout))
}

var _ = Describe("novajoin enrollment", func() {
	Describe("requested through server metadata", Ordered, func() {
		enrollmentLifecycle(1, func(name, domain string) openstack.BootRequest {
			return openstack.BootRequest{
				Name: name,
				Metadata: map[string]string{
					enrollment.MetaEnroll:          "True",
					enrollment.MetaCompactServices: compactServices,
					"managed_service_test":         "HTTP/managed-" + name + "." + domain,
				},
			}
		})
	})

	Describe("requested through image properties", Ordered, func() {
		enrollmentLifecycle(0, func(name, _ string) openstack.BootRequest {
			return openstack.BootRequest{
				Name:            name,
				Metadata:        map[string]string{enrollment.MetaCompactServices: compactServices},
				ImageProperties: map[string]string{enrollment.MetaEnroll: "True"},
			}
		})
	})
})
