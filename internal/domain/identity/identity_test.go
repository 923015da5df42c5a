package identity_test

import (
	"errors"
	"testing"

	"github.com/okian/parcelcast/internal/domain/identity"
	"github.com/smartystreets/goconvey/convey"
)

func TestRoleOrdering(t *testing.T) {
	convey.Convey("Given the role ladder", t, func() {
		convey.So(identity.Admin.AtLeast(identity.Manager), convey.ShouldBeTrue)
		convey.So(identity.Manager.AtLeast(identity.Manager), convey.ShouldBeTrue)
		convey.So(identity.Driver.AtLeast(identity.Manager), convey.ShouldBeFalse)
		convey.So(identity.Viewer.AtLeast(identity.Viewer), convey.ShouldBeTrue)
		convey.So(identity.Role("root").AtLeast(identity.Viewer), convey.ShouldBeFalse)
	})

	convey.Convey("Given role names", t, func() {
		r, err := identity.ParseRole("driver")
		convey.So(err, convey.ShouldBeNil)
		convey.So(r, convey.ShouldEqual, identity.Driver)

		_, err = identity.ParseRole("owner")
		convey.So(errors.Is(err, identity.ErrUnknownRole), convey.ShouldBeTrue)
	})
}
