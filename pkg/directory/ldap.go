package directory

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"slices"
	"strconv"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"

	"github.com/hpcops/allocsync/pkg/engine"
)

// conn is the subset of *ldap.Conn used by Directory.
type conn interface {
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Add(req *ldap.AddRequest) error
	Modify(req *ldap.ModifyRequest) error
}

// Directory implements engine.Directory on an LDAP server holding posixGroup entries.
// Membership is stored in the multi-valued memberUid attribute.
type Directory struct {
	conn    conn
	closeFn func()
	config  *Config
	logger  zerolog.Logger
}

var _ engine.Directory = (*Directory)(nil)

// Open dials and binds to the server. Any failure is fatal for the run.
func Open(ctx context.Context, config *Config, logger zerolog.Logger) (*Directory, error) {
	if err := config.Validate(); err != nil {
		return nil, engine.NewFatalError("ldap_config", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, engine.NewFatalError("ldap_dial", err)
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: config.InsecureSkipVerify}
	c, err := ldap.DialURL(config.URL,
		ldap.DialWithDialer(&net.Dialer{Timeout: config.ConnectTimeout}),
		ldap.DialWithTLSConfig(tlsConfig),
	)
	if err != nil {
		return nil, engine.NewFatalError("ldap_dial", fmt.Errorf("failed to connect to %s: %w", config.URL, err))
	}

	if config.StartTLS {
		if err := c.StartTLS(tlsConfig); err != nil {
			c.Close()
			return nil, engine.NewFatalError("ldap_starttls", err)
		}
	}

	if config.BindDN != "" {
		if err := c.Bind(config.BindDN, config.BindPassword); err != nil {
			c.Close()
			return nil, engine.NewFatalError("ldap_bind", fmt.Errorf("failed to bind as %s: %w", config.BindDN, err))
		}
	}

	logger = logger.With().Str("component", "directory").Logger()
	if who, err := c.WhoAmI(nil); err == nil {
		logger.Info().Str("authz_id", who.AuthzID).Msg("LDAP bind successful")
	} else {
		logger.Debug().Err(err).Msg("whoami not supported")
	}

	d := newDirectory(c, config, logger)
	d.closeFn = func() { c.Close() }
	return d, nil
}

func newDirectory(c conn, config *Config, logger zerolog.Logger) *Directory {
	return &Directory{
		conn:    c,
		closeFn: func() {},
		config:  config,
		logger:  logger,
	}
}

// Close releases the connection.
func (d *Directory) Close() error {
	d.closeFn()
	return nil
}

// GroupsOfUser returns the cn of every group listing username in memberUid.
// It fails with a lookup error when no user entry exists under the user base.
func (d *Directory) GroupsOfUser(ctx context.Context, username string) ([]string, error) {
	if _, err := d.userEntry(ctx, username, "uid"); err != nil {
		return nil, err
	}

	res, err := d.search(ctx, d.config.GroupBase,
		fmt.Sprintf("(memberUid=%s)", ldap.EscapeFilter(username)), []string{"cn"})
	if err != nil {
		return nil, engine.NewLookupError("groups_of_user", username, err)
	}

	groups := make([]string, 0, len(res.Entries))
	for _, e := range res.Entries {
		if cn := e.GetAttributeValue("cn"); cn != "" {
			groups = append(groups, cn)
		}
	}
	return groups, nil
}

// AddMember adds username to the memberUid list of group. A missing group is
// created as a posixGroup with the next free gidNumber and username as sole member.
func (d *Directory) AddMember(ctx context.Context, group, username string) error {
	entry, err := d.groupEntry(ctx, group)
	if err != nil {
		return engine.NewError(engine.ErrorKindCommand, "add_member", err).WithEntity(username).WithTarget(group)
	}

	if entry == nil {
		return d.createGroup(ctx, group, username)
	}

	members := entry.GetAttributeValues("memberUid")
	if slices.Contains(members, username) {
		return engine.NewError(engine.ErrorKindAlreadyMember, "add_member",
			fmt.Errorf("%s is already a member of %s", username, group)).
			WithEntity(username).WithTarget(group)
	}

	req := ldap.NewModifyRequest(entry.DN, nil)
	req.Replace("memberUid", append(members, username))
	if err := d.conn.Modify(req); err != nil {
		return engine.NewError(engine.ErrorKindCommand, "add_member", err).WithEntity(username).WithTarget(group)
	}
	d.logger.Info().Str("group", group).Str("user", username).Msg("added group member")
	return nil
}

// RemoveMember drops username from the memberUid list of group.
// A missing group is not an error.
func (d *Directory) RemoveMember(ctx context.Context, group, username string) error {
	entry, err := d.groupEntry(ctx, group)
	if err != nil {
		return engine.NewError(engine.ErrorKindCommand, "remove_member", err).WithEntity(username).WithTarget(group)
	}
	if entry == nil {
		d.logger.Debug().Str("group", group).Msg("group does not exist, nothing to remove")
		return nil
	}

	members := entry.GetAttributeValues("memberUid")
	i := slices.Index(members, username)
	if i < 0 {
		return engine.NewError(engine.ErrorKindNotMember, "remove_member",
			fmt.Errorf("%s is not a member of %s", username, group)).
			WithEntity(username).WithTarget(group)
	}

	req := ldap.NewModifyRequest(entry.DN, nil)
	req.Replace("memberUid", slices.Delete(members, i, i+1))
	if err := d.conn.Modify(req); err != nil {
		return engine.NewError(engine.ErrorKindCommand, "remove_member", err).WithEntity(username).WithTarget(group)
	}
	d.logger.Info().Str("group", group).Str("user", username).Msg("removed group member")
	return nil
}

// UserEmail returns the mail attribute of the user entry.
func (d *Directory) UserEmail(ctx context.Context, username string) (string, error) {
	entry, err := d.userEntry(ctx, username, "mail")
	if err != nil {
		return "", err
	}
	return entry.GetAttributeValue("mail"), nil
}

func (d *Directory) createGroup(ctx context.Context, group, username string) error {
	gid, err := d.nextGID(ctx)
	if err != nil {
		return engine.NewError(engine.ErrorKindCommand, "create_group", err).WithEntity(username).WithTarget(group)
	}

	req := ldap.NewAddRequest(d.groupDN(group), nil)
	req.Attribute("objectClass", []string{"top", "posixGroup"})
	req.Attribute("cn", []string{group})
	req.Attribute("description", []string{d.config.GroupDescription})
	req.Attribute("gidNumber", []string{strconv.Itoa(gid)})
	req.Attribute("memberUid", []string{username})
	if err := d.conn.Add(req); err != nil {
		return engine.NewError(engine.ErrorKindCommand, "create_group", err).WithEntity(username).WithTarget(group)
	}
	d.logger.Info().Str("group", group).Int("gid", gid).Str("user", username).Msg("created group")
	return nil
}

// nextGID returns one more than the highest gidNumber under the group base.
func (d *Directory) nextGID(ctx context.Context) (int, error) {
	res, err := d.search(ctx, d.config.GroupBase, "(objectClass=posixGroup)", []string{"gidNumber"})
	if err != nil {
		return 0, err
	}

	highest := -1
	for _, e := range res.Entries {
		raw := e.GetAttributeValue("gidNumber")
		gid, err := strconv.Atoi(raw)
		if err != nil {
			d.logger.Warn().Str("dn", e.DN).Str("gid", raw).Msg("ignoring invalid gidNumber")
			continue
		}
		highest = max(highest, gid)
	}
	if highest < 0 {
		return d.config.FirstGID, nil
	}
	return highest + 1, nil
}

// groupEntry returns the group entry, or nil when the group does not exist.
func (d *Directory) groupEntry(ctx context.Context, group string) (*ldap.Entry, error) {
	res, err := d.search(ctx, d.config.GroupBase,
		fmt.Sprintf("(cn=%s)", ldap.EscapeFilter(group)), []string{"memberUid"})
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, nil
		}
		return nil, err
	}
	if len(res.Entries) == 0 {
		return nil, nil
	}
	return res.Entries[0], nil
}

func (d *Directory) userEntry(ctx context.Context, username string, attrs ...string) (*ldap.Entry, error) {
	res, err := d.search(ctx, d.config.UserBase,
		fmt.Sprintf("(uid=%s)", ldap.EscapeFilter(username)), attrs)
	if err != nil {
		return nil, engine.NewLookupError("user_lookup", username, err)
	}
	if len(res.Entries) == 0 {
		return nil, engine.NewLookupError("user_lookup", username, fmt.Errorf("user %s not found", username))
	}
	return res.Entries[0], nil
}

func (d *Directory) search(ctx context.Context, base, filter string, attrs []string) (*ldap.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.logger.Debug().Str("base", base).Str("filter", filter).Msg("searching")
	req := ldap.NewSearchRequest(base,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter, attrs, nil)
	return d.conn.Search(req)
}

func (d *Directory) groupDN(group string) string {
	return "cn=" + ldap.EscapeDN(group) + "," + d.config.GroupBase
}
