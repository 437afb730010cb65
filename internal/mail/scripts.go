// Copyright 2025 Joseph Cumines

package mail

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joeycumines/apple-mcp/internal/automation"
)

// messageQuery parameterizes the message-listing scripts.
type messageQuery struct {
	account string
	mailbox string
	// whose is the AppleScript filter clause applied to each mailbox.
	whose string
	// predicate is the equivalent JXA whose() argument.
	predicate string
	limit     int
	preview   int
}

func unreadScript(account, mailbox string, limit, preview int) string {
	return messagesAppleScript(messageQuery{
		account: account, mailbox: mailbox, limit: limit, preview: preview,
		whose: "read status is false",
	})
}

func unreadJXA(account, mailbox string, limit, preview int) string {
	return messagesJXA(messageQuery{
		account: account, mailbox: mailbox, limit: limit, preview: preview,
		predicate: "{readStatus: false}",
	})
}

func searchScript(term string, limit, preview int) string {
	q := automation.QuoteAppleScript(term)
	return messagesAppleScript(messageQuery{
		limit: limit, preview: preview,
		whose: fmt.Sprintf("subject contains %s or sender contains %s", q, q),
	})
}

func searchJXA(term string, limit, preview int) string {
	q := automation.QuoteJS(term)
	return messagesJXA(messageQuery{
		limit: limit, preview: preview,
		predicate: fmt.Sprintf("{_or: [{subject: {_contains: %s}}, {sender: {_contains: %s}}]}", q, q),
	})
}

// messagesAppleScript returns a list of message records. Content longer than
// the preview is cut one character past it, so the marker is applied on
// this side.
func messagesAppleScript(q messageQuery) string {
	accounts := "every account"
	if q.account != "" {
		accounts = fmt.Sprintf("{account %s}", automation.QuoteAppleScript(q.account))
	}
	boxes := "every mailbox of acct"
	if q.mailbox != "" {
		boxes = fmt.Sprintf("(every mailbox of acct whose name is %s)", automation.QuoteAppleScript(q.mailbox))
	}

	return fmt.Sprintf(`tell application "Mail"
	set resultList to {}
	set msgCount to 0
	repeat with acct in %[1]s
		if msgCount >= %[3]d then exit repeat
		repeat with mb in %[2]s
			if msgCount >= %[3]d then exit repeat
			try
				set matched to (messages of mb whose %[5]s)
				repeat with m in matched
					if msgCount >= %[3]d then exit repeat
					try
						set msgContent to content of m
						if length of msgContent > %[4]d then set msgContent to text 1 thru %[6]d of msgContent
						set end of resultList to {subject:(subject of m), sender:(sender of m), dateSent:((date sent of m) as string), content:msgContent, isRead:(read status of m), mailbox:(name of mb)}
						set msgCount to msgCount + 1
					end try
				end repeat
			end try
		end repeat
	end repeat
	return resultList
end tell`, accounts, boxes, q.limit, q.preview, q.whose, q.preview+1)
}

// messagesJXA returns a JSON array of message objects.
func messagesJXA(q messageQuery) string {
	return fmt.Sprintf(`(() => {
	const Mail = Application("Mail");
	const limit = %[3]d, preview = %[4]d;
	const account = %[1]s, mailbox = %[2]s;
	const out = [];
	const accounts = account ? [Mail.accounts.byName(account)] : Mail.accounts();
	for (const acct of accounts) {
		if (out.length >= limit) break;
		let boxes = acct.mailboxes();
		if (mailbox) boxes = boxes.filter(b => b.name() === mailbox);
		for (const mb of boxes) {
			if (out.length >= limit) break;
			let msgs;
			try { msgs = mb.messages.whose(%[5]s)(); } catch (e) { continue; }
			for (const m of msgs) {
				if (out.length >= limit) break;
				try {
					let content = m.content() || "";
					if (content.length > preview) content = content.slice(0, preview + 1);
					out.push({subject: m.subject(), sender: m.sender(), dateSent: String(m.dateSent()), content: content, isRead: m.readStatus(), mailbox: mb.name()});
				} catch (e) {}
			}
		}
	}
	return JSON.stringify(out);
})()`, automation.QuoteJS(q.account), automation.QuoteJS(q.mailbox), q.limit, q.preview, q.predicate)
}

func sendScript(to, cc, bcc []string, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "tell application \"Mail\"\n")
	fmt.Fprintf(&b, "\tset newMessage to make new outgoing message with properties {subject:%s, content:%s, visible:false}\n",
		automation.QuoteAppleScript(subject), automation.QuoteAppleScript(body))
	b.WriteString("\ttell newMessage\n")
	for _, r := range []struct {
		kind  string
		addrs []string
	}{{"to", to}, {"cc", cc}, {"bcc", bcc}} {
		for _, a := range r.addrs {
			fmt.Fprintf(&b, "\t\tmake new %[1]s recipient at end of %[1]s recipients with properties {address:%[2]s}\n",
				r.kind, automation.QuoteAppleScript(a))
		}
	}
	b.WriteString("\tend tell\n")
	b.WriteString("\tsend newMessage\n")
	b.WriteString("end tell\n")
	fmt.Fprintf(&b, "return %s", automation.QuoteAppleScript(sendSentinel))
	return b.String()
}

func sendJXA(to, cc, bcc []string, subject, body string) string {
	return fmt.Sprintf(`(() => {
	const Mail = Application("Mail");
	const msg = Mail.OutgoingMessage({subject: %s, content: %s, visible: false});
	Mail.outgoingMessages.push(msg);
	for (const a of %s) msg.toRecipients.push(Mail.ToRecipient({address: a}));
	for (const a of %s) msg.ccRecipients.push(Mail.CcRecipient({address: a}));
	for (const a of %s) msg.bccRecipients.push(Mail.BccRecipient({address: a}));
	msg.send();
	return %s;
})()`, automation.QuoteJS(subject), automation.QuoteJS(body), jsArray(to), jsArray(cc), jsArray(bcc), automation.QuoteJS(sendSentinel))
}

func jsArray(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, _ := json.Marshal(items)
	return string(b)
}
