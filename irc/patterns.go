package irc

import "strconv"

// Numeric is a server numeric reply.
type Numeric struct {
	Raw     string
	Server  string
	Me      string
	Mode    string
	Channel string
	Data    string
}

// CapAck acknowledges requested capabilities.
type CapAck struct {
	Server string
	Data   string
}

// Ping is a keepalive request; answer with PONG :Data.
type Ping struct {
	Data string
}

// Pong is the server's answer to our PING.
type Pong struct {
	Server string
	Data   string
}

// Membership is a JOIN or PART.
type Membership struct {
	Mask    string
	Channel string
}

// Mode is a moderator grant or revoke.
type Mode struct {
	Mask   string
	Target string
	Modes  string
	Data   string
}

// Privmsg is a chat message in a channel.
type Privmsg struct {
	Raw     string
	Tags    Tags
	Mask    string
	Channel string
	Data    string
}

// Whisper is a private message to the bot.
type Whisper struct {
	Raw  string
	Tags Tags
	Mask string
	Me   string
	Data string
}

// Notice is a NOTICE or USERNOTICE from tmi.twitch.tv.
type Notice struct {
	Raw    string
	Tags   Tags
	Event  string
	Target string
	Data   string
}

// HostTarget reports a channel starting or stopping hosting.
type HostTarget struct {
	HostingChannel string
	TargetChannel  string
	Viewers        int
}

// ClearChat clears a channel or a single user's messages.
type ClearChat struct {
	Target string
	Data   string
}

// State is USERSTATE, ROOMSTATE or GLOBALUSERSTATE.
type State struct {
	Raw    string
	Tags   Tags
	Event  string
	Target string
}

// Reconnect asks the client to reconnect.
type Reconnect struct{}

func decodeNumeric(m Match) Numeric {
	return Numeric{Raw: m.Line, Server: m.Get("srv"), Me: m.Get("me"), Mode: m.Get("m"), Channel: m.Get("channel"), Data: m.Get("data")}
}

func decodeNotice(m Match) Notice {
	return Notice{Raw: m.Line, Tags: ParseTags(m.Get("tags")), Event: m.Get("event"), Target: m.Get("target"), Data: m.Get("data")}
}

func decodeState(m Match) State {
	return State{Raw: m.Line, Tags: ParseTags(m.Get("tags")), Event: m.Get("event"), Target: m.Get("target")}
}

// Numeric replies.
var (
	NamReplyPattern       = NewPattern("RPL_NAMREPLY", `:(?P<srv>\S+) 353 (?P<me>\S+) (?P<m>\S+) (?P<channel>\S+) :(?P<data>.*)`, decodeNumeric)
	EndOfNamesPattern     = NewPattern("RPL_ENDOFNAMES", `:(?P<srv>\S+) 366 (?P<me>\S+) (?P<channel>\S+) :(?P<data>.*)`, decodeNumeric)
	MotdStartPattern      = NewPattern("RPL_MOTDSTART", `:(?P<srv>\S+) 375 (?P<me>\S+) :(?P<data>.*)`, decodeNumeric)
	MotdPattern           = NewPattern("RPL_MOTD", `:(?P<srv>\S+) 372 (?P<me>\S+) :(?P<data>.*)`, decodeNumeric)
	EndOfMotdPattern      = NewPattern("RPL_ENDOFMOTD", `:(?P<srv>\S+) 376 (?P<me>\S+) :(?P<data>.*)`, decodeNumeric)
	UnknownCommandPattern = NewPattern("ERR_UNKNOWNCOMMAND", `:(?P<srv>\S+) 421 (?P<me>\S+) :(?P<data>.*)`, decodeNumeric)
)

// Message replies.
var (
	CapAckPattern = NewPattern("CAP_ACK", `:(?P<srv>\S+) CAP \* ACK :(?P<data>.*)`, func(m Match) CapAck {
		return CapAck{Server: m.Get("srv"), Data: m.Get("data")}
	})

	PingPattern = NewPattern("PING", `PING :?(?P<data>.*)`, func(m Match) Ping {
		return Ping{Data: m.Get("data")}
	})
	PongPattern = NewPattern("PONG", `:(?P<server>\S+) PONG \S+(?: :)?(?P<data>.*)`, func(m Match) Pong {
		return Pong{Server: m.Get("server"), Data: m.Get("data")}
	})

	JoinPattern = NewPattern("JOIN", `:(?P<mask>\S+) JOIN (?P<channel>\S+)`, func(m Match) Membership {
		return Membership{Mask: m.Get("mask"), Channel: m.Get("channel")}
	})
	PartPattern = NewPattern("PART", `:(?P<mask>\S+) PART (?P<channel>\S+)`, func(m Match) Membership {
		return Membership{Mask: m.Get("mask"), Channel: m.Get("channel")}
	})

	ModePattern = NewPattern("MODE", `:(?P<mask>jtv) (?P<event>MODE) (?P<target>\S+) (?P<modes>\S+)(?: (?P<data>\S+))?`, func(m Match) Mode {
		return Mode{Mask: m.Get("mask"), Target: m.Get("target"), Modes: m.Get("modes"), Data: m.Get("data")}
	})

	PrivmsgPattern = NewPattern("PRIVMSG", `(?:@(?P<tags>\S+) )?:(?P<mask>[^!\s]+)(?:\S+ )(?P<event>PRIVMSG) (?P<channel>\S+) :(?P<data>.+)`, func(m Match) Privmsg {
		return Privmsg{Raw: m.Line, Tags: ParseTags(m.Get("tags")), Mask: m.Get("mask"), Channel: m.Get("channel"), Data: m.Get("data")}
	})
	WhisperPattern = NewPattern("WHISPER", `(?:@(?P<tags>\S+) )?:(?P<mask>[^!\s]+)(?:\S+ )(?P<event>WHISPER) (?P<me>\S+) :(?P<data>.+)`, func(m Match) Whisper {
		return Whisper{Raw: m.Line, Tags: ParseTags(m.Get("tags")), Mask: m.Get("mask"), Me: m.Get("me"), Data: m.Get("data")}
	})
	NoticePattern     = NewPattern("NOTICE", `(?:@(?P<tags>\S+) )?:(?P<mask>tmi\.twitch\.tv) (?P<event>NOTICE) (?P<target>\S+) :(?P<data>.+)`, decodeNotice)
	UserNoticePattern = NewPattern("USERNOTICE", `(?:@(?P<tags>\S+) )?:(?P<mask>tmi\.twitch\.tv) (?P<event>USERNOTICE) (?P<target>\S+)(?: :(?P<data>.+))?`, decodeNotice)

	HostTargetPattern = NewPattern("HOSTTARGET", `:(?P<mask>tmi\.twitch\.tv) HOSTTARGET (?P<hosting_channel>\S+) :(?P<target_channel>\S+) (?P<number>\d+)`, func(m Match) HostTarget {
		n, _ := strconv.Atoi(m.Get("number"))
		return HostTarget{HostingChannel: m.Get("hosting_channel"), TargetChannel: m.Get("target_channel"), Viewers: n}
	})

	ClearChatPattern = NewPattern("CLEARCHAT", `(?:@(?P<tags>\S+) )?:(?P<mask>tmi\.twitch\.tv) CLEARCHAT (?P<target>\S+)(?: :(?P<data>\S+))?`, func(m Match) ClearChat {
		return ClearChat{Target: m.Get("target"), Data: m.Get("data")}
	})

	UserStatePattern       = NewPattern("USERSTATE", `(?:@(?P<tags>\S+) )?:(?P<mask>tmi\.twitch\.tv) (?P<event>USERSTATE) (?P<target>\S+)`, decodeState)
	GlobalUserStatePattern = NewPattern("GLOBALUSERSTATE", `(?:@(?P<tags>\S+) )?:(?P<mask>tmi\.twitch\.tv) (?P<event>GLOBALUSERSTATE)`, decodeState)
	RoomStatePattern       = NewPattern("ROOMSTATE", `(?:@(?P<tags>\S+) )?:(?P<mask>tmi\.twitch\.tv) (?P<event>ROOMSTATE) (?P<target>\S+)`, decodeState)

	ReconnectPattern = NewPattern("RECONNECT", `(?::tmi\.twitch\.tv )?RECONNECT`, func(Match) Reconnect { return Reconnect{} })
)

// Builtins maps every built-in pattern name to its expression, in table order.
// Consumers that work on raw matches (scripts, the admin API) look patterns up here.
var Builtins = []struct {
	Name string
	Expr string
}{
	{NamReplyPattern.Name, NamReplyPattern.Expr},
	{EndOfNamesPattern.Name, EndOfNamesPattern.Expr},
	{MotdStartPattern.Name, MotdStartPattern.Expr},
	{MotdPattern.Name, MotdPattern.Expr},
	{EndOfMotdPattern.Name, EndOfMotdPattern.Expr},
	{UnknownCommandPattern.Name, UnknownCommandPattern.Expr},
	{CapAckPattern.Name, CapAckPattern.Expr},
	{PingPattern.Name, PingPattern.Expr},
	{PongPattern.Name, PongPattern.Expr},
	{JoinPattern.Name, JoinPattern.Expr},
	{PartPattern.Name, PartPattern.Expr},
	{ModePattern.Name, ModePattern.Expr},
	{PrivmsgPattern.Name, PrivmsgPattern.Expr},
	{WhisperPattern.Name, WhisperPattern.Expr},
	{NoticePattern.Name, NoticePattern.Expr},
	{UserNoticePattern.Name, UserNoticePattern.Expr},
	{HostTargetPattern.Name, HostTargetPattern.Expr},
	{ClearChatPattern.Name, ClearChatPattern.Expr},
	{UserStatePattern.Name, UserStatePattern.Expr},
	{GlobalUserStatePattern.Name, GlobalUserStatePattern.Expr},
	{RoomStatePattern.Name, RoomStatePattern.Expr},
	{ReconnectPattern.Name, ReconnectPattern.Expr},
}

// LookupBuiltin returns the raw pattern for a built-in name.
func LookupBuiltin(name string) (Pattern[Match], bool) {
	for _, b := range Builtins {
		if b.Name == name {
			return Raw(b.Name, b.Expr), true
		}
	}
	return Pattern[Match]{}, false
}
