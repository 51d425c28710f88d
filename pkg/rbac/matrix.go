package rbac

import "github.com/platinummonkey/facilityrbac/pkg/orgs"

// flags are the cumulative role predicates and organization-kind predicates
// every topic rule is expressed over
type flags struct {
	isRootAdmin bool
	isAdmin     bool
	isEditor    bool
	isViewer    bool

	isRoot      bool
	isOperator  bool
	isDataOwner bool
}

func newFlags(role Role, kind orgs.Kind) flags {
	f := flags{
		isRoot:      kind == orgs.KindRootCouncil,
		isOperator:  kind == orgs.KindOperator,
		isDataOwner: kind == orgs.KindDataOwner,
	}
	f.isRootAdmin = role == RoleRootAdmin
	f.isAdmin = f.isRootAdmin || role == RoleAdmin
	f.isEditor = f.isAdmin || role == RoleEditor
	f.isViewer = f.isEditor || role == RoleViewer
	return f
}

// rule grants rights when its condition holds
type rule struct {
	when  func(f flags) bool
	grant CRUD
}

// topicRules lists the rules for every topic. The first matching rule wins.
var topicRules = map[Topic][]rule{
	TopicPlatformSuperAdmin: {
		{when: func(f flags) bool { return f.isRoot && f.isRootAdmin }, grant: allowCRUD},
	},
	TopicPlatformAdmin: {
		{when: func(f flags) bool { return f.isRoot && f.isAdmin }, grant: allowCRUD},
	},
	TopicOperatorAssignment: {
		{when: func(f flags) bool { return f.isAdmin && (f.isRoot || f.isDataOwner) }, grant: allowCRUD},
	},
	TopicDataOwnerUsersFull: {
		{when: func(f flags) bool { return f.isAdmin && (f.isRoot || f.isDataOwner) }, grant: allowCRUD},
	},
	TopicDataOwnerUsersLimited: {
		{when: func(f flags) bool { return f.isAdmin }, grant: allowCRUD},
	},
	TopicDataOwnerSettings: {
		{when: func(f flags) bool { return f.isAdmin && (f.isRoot || f.isDataOwner) }, grant: allowCRUD},
		{when: func(f flags) bool { return f.isEditor && f.isDataOwner }, grant: allowReadUpdate},
	},
	TopicSiteContent: {
		{when: func(f flags) bool { return f.isRoot && f.isEditor }, grant: allowCRUD},
	},
	TopicFacilitySettingsFull: {
		{when: func(f flags) bool { return f.isEditor && (f.isRoot || f.isDataOwner) }, grant: allowCRUD},
	},
	TopicFacilitySettingsLimited: {
		{when: func(f flags) bool { return f.isEditor }, grant: allowCRUD},
	},
	TopicReporting: {
		{when: func(f flags) bool { return f.isViewer }, grant: allowCRUD},
	},
	TopicQueueOversight: {
		{when: func(f flags) bool { return f.isRoot && f.isAdmin }, grant: allowCRUD},
		{when: func(f flags) bool { return f.isAdmin }, grant: allowRead},
	},
}

// Compile builds the permission matrix for a role held in an organization of the
// given kind. Compile is pure and total: every topic is present in the result, and
// an unknown role or organization kind compiles to a matrix that grants nothing.
func Compile(role Role, kind orgs.Kind) Matrix {
	matrix := make(Matrix, len(topicRules))
	for _, topic := range Topics() {
		matrix[topic] = allowNone
	}
	if !role.Valid() || !kind.Valid() {
		return matrix
	}

	f := newFlags(role, kind)
	for topic, rules := range topicRules {
		for _, r := range rules {
			if r.when(f) {
				matrix[topic] = r.grant
				break
			}
		}
	}
	return matrix
}

// HasAnyRight reports whether the matrix grants any right on the topic
func HasAnyRight(matrix Matrix, topic Topic) bool {
	return matrix[topic].Any()
}

// Allowed reports whether the matrix grants every right in want on the topic
func Allowed(matrix Matrix, topic Topic, want CRUD) bool {
	return matrix[topic].Covers(want)
}
