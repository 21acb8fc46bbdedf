// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Redditwatch is a Telegram bot that watches subreddits and sends new posts
to subscribed chats.

Chats manage their subscriptions with commands:

	/sub <subreddit>     subscribe to new posts
	/unsub <subreddit>   unsubscribe
	/subslist            list subscriptions of this chat
	/latest <subreddit>  fetch the newest post without subscribing

Each watched subreddit is polled on its own schedule. Polls back off
exponentially on fetch failures; after too many consecutive failures the
subreddit stops being polled and its subscribers are notified.

# Usage

	$ redditwatch [flags...]

# Environment Variables

The redditwatch program relies on the following environment variables:

  - TELEGRAM_TOKEN: Telegram bot token for accessing the Telegram Bot API.
    Required.
  - STORE_URL: where to keep subscriptions and poll state. Supported
    schemes are redis://, postgres://, sqlite:// and mem://. Defaults to
    "mem://", which loses everything on restart.
  - ADMIN_ADDR: address of the admin HTTP server. Defaults to
    "localhost:3000".
  - REDDIT_BASE_URL: overrides the Reddit endpoint. Defaults to
    "https://www.reddit.com".
  - BASE_INTERVAL: delay between successful polls of one subreddit, as a
    Go duration. Defaults to "3m".
  - MAX_INTERVAL: backoff ceiling. Defaults to "30m".
  - BACKOFF_FACTOR: backoff multiplier. Defaults to "2".
  - MAX_RETRIES: consecutive failures after which a subreddit is dropped.
    Defaults to "5".
  - TICK_INTERVAL: scheduler tick cadence. Defaults to "1s".
  - DELIVERY_CAP: maximum posts delivered per poll per chat; the rest is
    summarized. Defaults to "5".
  - FETCH_TIMEOUT: timeout of one feed fetch. Defaults to "30s".
  - SMTP_HOST, SMTP_PORT, SMTP_USERNAME, SMTP_PASSWORD, EMAIL_FROM:
    SMTP settings for mailto: destinations. Optional; without them mail
    delivery is disabled.

Variables can also be put in a .env file in the working directory.

# Admin Server

The admin server exposes a read-only JSON surface:

	GET /health              health checks
	GET /api/feeds           every watched subreddit with its schedule
	GET /api/feeds/{key}     one watched subreddit
	GET /api/stats           poll counters and engine status
*/
package main
